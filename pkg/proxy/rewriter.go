package proxy

import (
	"log/slog"
	"mime"
	"regexp"
	"strings"
)

// Upstream branding artifacts targeted by the rewrite rules.
const (
	upstreamLogoPath    = "img/orthanc.png"
	upstreamProductWord = "orthanc"
)

var (
	// "Orthanc: {{version}}" as rendered by the upstream's Angular template.
	versionTemplatePattern = regexp.MustCompile(`Orthanc:?\s*\{\{\s*version\s*\}\}`)
	// "Orthanc 1.12.4" style banners in already-rendered documents.
	versionLiteralPattern = regexp.MustCompile(`Orthanc\s+\d+(?:\.\d+)*`)
	// Product-name phrase, any casing.
	productPhrasePattern = regexp.MustCompile(`(?i)orthanc\s+explorer`)
	// Fallback: any image reference whose path mentions the upstream
	// product, in either attribute quoting style.
	logoFallbackDouble = regexp.MustCompile(`src="[^"]*` + upstreamProductWord + `[^"]*"`)
	logoFallbackSingle = regexp.MustCompile(`src='[^']*` + upstreamProductWord + `[^']*'`)
)

type rewriteRule struct {
	literal     string         // exact-match rule when non-empty
	pattern     *regexp.Regexp // otherwise pattern rule
	replacement string
}

func (r rewriteRule) apply(body string) string {
	if r.literal != "" {
		return strings.ReplaceAll(body, r.literal, r.replacement)
	}
	return r.pattern.ReplaceAllLiteralString(body, r.replacement)
}

// Rewriter applies branding substitutions to HTML documents relayed through
// the proxy. Rules are built once at startup and immutable thereafter; rules
// that need the branding asset are skipped when the asset failed to load.
type Rewriter struct {
	rules  []rewriteRule
	logger *slog.Logger
}

// NewRewriter builds the ordered rule set for the given branding asset and
// product name.
func NewRewriter(asset *BrandingAsset, productName string, logger *slog.Logger) *Rewriter {
	if logger == nil {
		logger = slog.Default()
	}
	if asset == nil {
		asset = &BrandingAsset{}
	}

	var rules []rewriteRule

	if asset.Empty() {
		logger.Warn("branding asset empty, logo rewrite rules skipped")
	} else {
		uri := asset.DataURI()
		rules = append(rules,
			rewriteRule{literal: `src="` + upstreamLogoPath + `"`, replacement: `src="` + uri + `"`},
			rewriteRule{literal: `src='` + upstreamLogoPath + `'`, replacement: `src='` + uri + `'`},
		)
	}

	rules = append(rules,
		rewriteRule{pattern: versionTemplatePattern, replacement: productName},
		rewriteRule{pattern: versionLiteralPattern, replacement: productName},
		rewriteRule{pattern: productPhrasePattern, replacement: productName},
	)

	if !asset.Empty() {
		uri := asset.DataURI()
		rules = append(rules,
			rewriteRule{pattern: logoFallbackDouble, replacement: `src="` + uri + `"`},
			rewriteRule{pattern: logoFallbackSingle, replacement: `src='` + uri + `'`},
		)
	}

	return &Rewriter{rules: rules, logger: logger}
}

// ShouldRewrite reports whether a response with the given Content-Type is a
// markup document subject to rewriting. Anything else must be relayed
// byte-for-byte; imaging payloads are never decoded as text.
func (rw *Rewriter) ShouldRewrite(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	switch mediaType {
	case "text/html", "application/xhtml+xml":
		return true
	default:
		return false
	}
}

// Rewrite applies all rules in order to the buffered document and returns
// the rewritten bytes. A document with no matches comes back unchanged.
func (rw *Rewriter) Rewrite(body []byte) []byte {
	doc := string(body)
	for _, rule := range rw.rules {
		doc = rule.apply(doc)
	}
	return []byte(doc)
}
