package geo

// Approximate geographic centers of US states.
var stateCentroids = map[string]Point{
	"al": {32.806671, -86.791130}, "ak": {61.370716, -152.404419},
	"az": {33.729759, -111.431221}, "ar": {34.969704, -92.373123},
	"ca": {36.116203, -119.681564}, "co": {39.059811, -105.311104},
	"ct": {41.597782, -72.755371}, "de": {39.318523, -75.507141},
	"fl": {27.766279, -81.686783}, "ga": {33.040619, -83.643074},
	"hi": {21.094318, -157.498337}, "id": {44.240459, -114.478828},
	"il": {40.349457, -88.986137}, "in": {39.849426, -86.258278},
	"ia": {42.011539, -93.210526}, "ks": {38.526600, -96.726486},
	"ky": {37.668140, -84.670067}, "la": {31.169546, -91.867805},
	"me": {44.693947, -69.381927}, "md": {39.063946, -76.802101},
	"ma": {42.230171, -71.530106}, "mi": {43.326618, -84.536095},
	"mn": {45.694454, -93.900192}, "ms": {32.741646, -89.678696},
	"mo": {38.456085, -92.288368}, "mt": {46.921925, -110.454353},
	"ne": {41.125370, -98.268082}, "nv": {38.313515, -117.055374},
	"nh": {43.452492, -71.563896}, "nj": {40.298904, -74.521011},
	"nm": {34.840515, -106.248482}, "ny": {42.165726, -74.948051},
	"nc": {35.630066, -79.806419}, "nd": {47.528912, -99.784012},
	"oh": {40.388783, -82.764915}, "ok": {35.565342, -96.928917},
	"or": {44.572021, -122.070938}, "pa": {40.590752, -77.209755},
	"ri": {41.680893, -71.511780}, "sc": {33.856892, -80.945007},
	"sd": {44.299782, -99.438828}, "tn": {35.747845, -86.692345},
	"tx": {31.054487, -97.563461}, "ut": {40.150032, -111.862434},
	"vt": {44.045876, -72.710686}, "va": {37.769337, -78.169968},
	"wa": {47.400902, -121.490494}, "wv": {38.491226, -80.954453},
	"wi": {44.268543, -89.616508}, "wy": {42.755966, -107.302490},
	"dc": {38.897438, -77.026817},
}

var stateNames = map[string]string{
	"alabama": "al", "alaska": "ak", "arizona": "az", "arkansas": "ar",
	"california": "ca", "colorado": "co", "connecticut": "ct", "delaware": "de",
	"florida": "fl", "georgia": "ga", "hawaii": "hi", "idaho": "id",
	"illinois": "il", "indiana": "in", "iowa": "ia", "kansas": "ks",
	"kentucky": "ky", "louisiana": "la", "maine": "me", "maryland": "md",
	"massachusetts": "ma", "michigan": "mi", "minnesota": "mn", "mississippi": "ms",
	"missouri": "mo", "montana": "mt", "nebraska": "ne", "nevada": "nv",
	"new hampshire": "nh", "new jersey": "nj", "new mexico": "nm", "new york": "ny",
	"north carolina": "nc", "north dakota": "nd", "ohio": "oh", "oklahoma": "ok",
	"oregon": "or", "pennsylvania": "pa", "rhode island": "ri", "south carolina": "sc",
	"south dakota": "sd", "tennessee": "tn", "texas": "tx", "utah": "ut",
	"vermont": "vt", "virginia": "va", "washington": "wa", "west virginia": "wv",
	"wisconsin": "wi", "wyoming": "wy", "district of columbia": "dc",
}
