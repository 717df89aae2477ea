package ingest

import "strings"

// sizeTokens are the clothing sizes the dash heuristic recognizes as a
// trailing SKU segment.
var sizeTokens = map[string]bool{
	"pp": true, "p": true, "m": true, "g": true, "gg": true, "xg": true,
	"xgg": true, "eg": true, "egg": true,
	"xs": true, "s": true, "l": true, "xl": true, "xxl": true,
	"u": true, "un": true, "unico": true,
}

// deriveVariation resolves the variation attribute from whatever the source
// provides. The layers run in order of reliability and each one is tried
// only when the previous produced nothing:
//
//  1. an explicit "attr, size" variation string keeps its last segment
//  2. a dash-separated SKU whose tail looks like a size token
//  3. the SKU's remainder after stripping the product name
func deriveVariation(rawVariation, sku, productName string) string {
	if v := fromVariationString(rawVariation); v != "" {
		return v
	}
	if v := fromDashedSKU(sku); v != "" {
		return v
	}
	return fromSKUProductDiff(sku, productName)
}

// fromVariationString handles the explicit case. "Cor: Azul, Tamanho: M"
// keeps "M"; a plain value passes through untouched.
func fromVariationString(raw string) string {
	v := strings.TrimSpace(raw)
	if v == "" {
		return ""
	}
	if idx := strings.LastIndex(v, ","); idx >= 0 {
		v = strings.TrimSpace(v[idx+1:])
	}
	if idx := strings.LastIndex(v, ":"); idx >= 0 {
		v = strings.TrimSpace(v[idx+1:])
	}
	return v
}

// fromDashedSKU reads a size off SKUs shaped like "CAM-AZUL-M"
func fromDashedSKU(sku string) string {
	s := strings.TrimSpace(sku)
	if !strings.Contains(s, "-") {
		return ""
	}
	parts := strings.Split(s, "-")
	tail := strings.TrimSpace(parts[len(parts)-1])
	if sizeTokens[strings.ToLower(tail)] {
		return strings.ToUpper(tail)
	}
	return ""
}

// fromSKUProductDiff infers the variation from what the SKU carries beyond
// the product name. Least reliable, used only as last resort.
func fromSKUProductDiff(sku, productName string) string {
	s := normalizeKey(sku)
	p := normalizeKey(productName)
	if s == "" || p == "" || s == p {
		return ""
	}
	if strings.HasPrefix(s, p) {
		rest := strings.Trim(s[len(p):], "-_ ")
		if rest != "" && len(rest) <= 6 {
			return strings.ToUpper(rest)
		}
	}
	return ""
}
