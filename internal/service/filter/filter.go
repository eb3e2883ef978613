package filter

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/zhouzirui/camp-guide/backend/internal/model/camp"
)

var (
	// ErrAmbiguous 表示无法从追问中得到任何可用条件。
	ErrAmbiguous = errors.New("no usable filter criteria")
	// ErrAssistUnavailable 表示借助大模型提取条件时调用失败。
	ErrAssistUnavailable = errors.New("criteria assist unavailable")
)

// Extractor 是可选的大模型条件提取能力。
type Extractor interface {
	ExtractCriteria(ctx context.Context, message string, categories []string) (camp.FilterCriteria, error)
}

// Outcome 是一次筛选的结果。
type Outcome struct {
	Criteria camp.FilterCriteria
	Records  []camp.Record
	// Assisted 表示条件来自大模型而不是规则解析。
	Assisted bool
}

// Filter 在缓存的基线结果上做内存筛选，从不修改基线。
type Filter struct {
	assist Extractor
	logger *zap.Logger
}

// New 创建筛选器；assist 为 nil 时只使用规则解析结果。
func New(assist Extractor, logger *zap.Logger) *Filter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filter{assist: assist, logger: logger.Named("filter")}
}

// Run 用本条消息解析出的条件筛选 baseline。parsed 为空时尝试大模型提取，
// 仍然为空则返回 ErrAmbiguous，由调用方改为澄清提问。
func (f *Filter) Run(ctx context.Context, baseline []camp.Record, message string, parsed camp.FilterCriteria, categories []string) (Outcome, error) {
	criteria := parsed
	assisted := false
	if criteria.Empty() {
		if f.assist == nil {
			return Outcome{}, ErrAmbiguous
		}
		extracted, err := f.assist.ExtractCriteria(ctx, message, categories)
		if err != nil {
			return Outcome{}, fmt.Errorf("%w: %v", ErrAssistUnavailable, err)
		}
		if extracted.Empty() {
			return Outcome{}, ErrAmbiguous
		}
		criteria, assisted = extracted, true
		f.logger.Debug("criteria extracted by model", zap.Any("criteria", criteria))
	}

	return Outcome{
		Criteria: criteria,
		Records:  Apply(baseline, criteria),
		Assisted: assisted,
	}, nil
}

// Apply 是纯函数：先按谓词过滤，再在过滤结果上按序号切片，保持原有相对顺序。
// 返回的是副本，baseline 不会被改动。
func Apply(baseline []camp.Record, criteria camp.FilterCriteria) []camp.Record {
	matched := make([]camp.Record, 0, len(baseline))
	for _, r := range baseline {
		if !criteria.Matches(r) {
			continue
		}
		if criteria.MaxDistanceMiles != nil {
			if r.DistanceMiles == nil || *r.DistanceMiles > *criteria.MaxDistanceMiles {
				continue
			}
		}
		matched = append(matched, r.Clone())
	}
	if criteria.Ordinal != nil {
		return criteria.Ordinal.Slice(matched)
	}
	return matched
}
