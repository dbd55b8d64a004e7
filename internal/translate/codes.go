package translate

import "strings"

var providerCodes = map[string]string{
	"en-us": "en",
	"en-gb": "en",
	"pt-br": "pt",
	"zh":    "zh-Hans",
	"zh-cn": "zh-Hans",
	"zh-tw": "zh-Hant",
	"no":    "nb",
}

// ProviderCode maps a site language code to the provider's code. Codes
// without an explicit mapping are reduced to their lower-cased primary
// subtag, so "de-AT" becomes "de".
func ProviderCode(code string) string {
	code = strings.ToLower(strings.TrimSpace(strings.ReplaceAll(code, "_", "-")))
	if mapped, ok := providerCodes[code]; ok {
		return mapped
	}
	if i := strings.IndexByte(code, '-'); i > 0 {
		return code[:i]
	}
	return code
}
