package canonicalize

import "golang.org/x/text/unicode/norm"

// NFC returns s in Unicode Normalization Form C.
func NFC(s string) string {
	return norm.NFC.String(s)
}

// NFCMap returns a copy of m with keys and values NFC-normalised.
// A nil map stays nil.
func NFCMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[NFC(k)] = NFC(v)
	}
	return out
}

// NFCValue deep-copies a decoded JSON value, normalising every string and
// object key. Other scalars are returned unchanged.
func NFCValue(v any) any {
	switch t := v.(type) {
	case string:
		return NFC(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[NFC(k)] = NFCValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = NFCValue(val)
		}
		return out
	case map[string]string:
		return NFCMap(t)
	default:
		return v
	}
}
