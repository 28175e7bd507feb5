package cardigann

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/tidwall/gjson"
	"golang.org/x/text/unicode/norm"
)

// FilterFunc is a function that transforms a string value. Filters are
// fail-open: on malformed args or internal failure they return the input
// unchanged (or a defined fallback) instead of an error, so one broken
// filter degrades a single field rather than aborting the parse.
type FilterFunc func(value string, args []string) (string, error)

// maxPatternLength bounds user-supplied regex patterns. Go's RE2 engine is
// linear-time, so the bound guards memory, not backtracking.
const maxPatternLength = 2048

var (
	filtersMu sync.RWMutex

	// filters is the registry of all available filter functions.
	filters = map[string]FilterFunc{
		// String manipulation
		"replace":    filterReplace,
		"re_replace": filterReReplace,
		"split":      filterSplit,
		"trim":       filterTrim,
		"trimleft":   filterTrimLeft,
		"trimright":  filterTrimRight,
		"trimprefix": filterTrimPrefix,
		"trimsuffix": filterTrimSuffix,
		"prepend":    filterPrepend,
		"append":     filterAppend,
		"tolower":    filterToLower,
		"toupper":    filterToUpper,
		"substring":  filterSubstring,
		"first":      filterFirst,
		"last":       filterLast,
		"padleft":    filterPadLeft,
		"padright":   filterPadRight,

		// Date parsing
		"dateparse": filterDateParse,
		"timeparse": filterDateParse,
		"timeago":   filterTimeAgo,
		"reltime":   filterTimeAgo,
		"fuzzytime": filterFuzzyTime,

		// URL processing
		"urldecode":   filterURLDecode,
		"urlencode":   filterURLEncode,
		"querystring": filterQueryString,
		"pathcombine": filterPathCombine,

		// HTML processing
		"htmldecode": filterHTMLDecode,
		"htmlencode": filterHTMLEncode,
		"striptags":  filterStripTags,

		// Regex extraction
		"regexp": filterRegexp,

		// Validation and predicates
		"validate":    filterValidate,
		"contains":    filterContains,
		"notcontains": filterNotContains,
		"startswith":  filterStartsWith,
		"endswith":    filterEndsWith,
		"ifthenelse":  filterIfThenElse,
		"andmatch":    filterAndMatch,
		"ormatch":     filterOrMatch,

		// Size parsing
		"size":      filterSize,
		"parsesize": filterSize,
		"sizeparse": filterSize,

		// Numeric
		"multiply":   filterMultiply,
		"divide":     filterDivide,
		"parseint":   filterParseInt,
		"parsefloat": filterParseFloat,

		// Encoding and hashing
		"base64encode": filterBase64Encode,
		"base64decode": filterBase64Decode,
		"md5":          filterMD5,
		"sha1":         filterSHA1,
		"hexdump":      filterHexDump,

		// JSON
		"jsonpath":      filterJSONPath,
		"jsonjoinarray": filterJSONJoinArray,

		// Value mapping
		"mapreplace":    filterMapReplace,
		"mapreplaceraw": filterMapReplaceRaw,
		"coalesce":      filterCoalesce,
		"default":       filterDefault,

		// Debug
		"strdump": filterStrDump,

		// Text processing
		"diacritics":    filterDiacritics,
		"normalize":     filterNormalize,
		"validfilename": filterValidFilename,
	}
)

// ContextFilterFunc is a filter that also sees the template context. URL
// resolution filters fall back to the context's site link when the
// definition passes no base argument.
type ContextFilterFunc func(value string, args []string, ctx *TemplateContext) (string, error)

// contextFilters dispatches before the plain registry; a nil context is
// valid and limits these filters to their explicit arguments.
var contextFilters = map[string]ContextFilterFunc{
	"absoluteurl": filterAbsoluteURL,
	"baseurl":     filterBaseURL,
}

// RegisterFilter adds or replaces a named filter at runtime.
func RegisterFilter(name string, fn FilterFunc) {
	filtersMu.Lock()
	defer filtersMu.Unlock()
	filters[name] = fn
}

// RegisterContextFilter adds or replaces a named context-aware filter.
func RegisterContextFilter(name string, fn ContextFilterFunc) {
	filtersMu.Lock()
	defer filtersMu.Unlock()
	contextFilters[name] = fn
}

func lookupFilter(name string) (FilterFunc, bool) {
	filtersMu.RLock()
	defer filtersMu.RUnlock()
	fn, ok := filters[name]
	return fn, ok
}

func lookupContextFilter(name string) (ContextFilterFunc, bool) {
	filtersMu.RLock()
	defer filtersMu.RUnlock()
	fn, ok := contextFilters[name]
	return fn, ok
}

// ApplyFilters applies a sequence of filters to a value without template
// context.
func ApplyFilters(value string, filterList []Filter) string {
	return ApplyFiltersWithContext(value, filterList, nil, nil)
}

// ApplyFiltersWithContext applies filters with template evaluation support
// for filter arguments. Unknown filters are skipped; a filter returning an
// error leaves the value as it was before that filter.
func ApplyFiltersWithContext(value string, filterList []Filter, engine *TemplateEngine, ctx *TemplateContext) string {
	result := value
	for _, f := range filterList {
		args := normalizeFilterArgs(f.Args)

		// Evaluate template expressions in filter arguments
		if engine != nil && ctx != nil {
			for i, arg := range args {
				if strings.Contains(arg, "{{") {
					evaluated, err := engine.Evaluate(arg, ctx)
					if err == nil {
						args[i] = evaluated
					}
				}
			}
		}

		if fn, ok := lookupContextFilter(f.Name); ok {
			next, err := fn(result, args, ctx)
			if err == nil {
				result = next
			}
			continue
		}

		fn, ok := lookupFilter(f.Name)
		if !ok {
			continue
		}
		next, err := fn(result, args)
		if err != nil {
			continue
		}
		result = next
	}
	return result
}

// normalizeFilterArgs converts filter args to []string.
func normalizeFilterArgs(args interface{}) []string {
	if args == nil {
		return nil
	}
	switch v := args.(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []interface{}:
		result := make([]string, len(v))
		for i, item := range v {
			result[i] = fmt.Sprintf("%v", item)
		}
		return result
	default:
		return []string{fmt.Sprintf("%v", v)}
	}
}

// compileSafeRegexp compiles a user-supplied pattern with a length bound.
// Returns nil on any pattern the engine should not attempt.
func compileSafeRegexp(pattern string) *regexp.Regexp {
	if pattern == "" || len(pattern) > maxPatternLength {
		return nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil
	}
	return re
}

// String manipulation filters

func filterReplace(value string, args []string) (string, error) {
	if len(args) < 2 {
		return value, nil
	}
	return strings.ReplaceAll(value, args[0], args[1]), nil
}

func filterReReplace(value string, args []string) (string, error) {
	if len(args) < 2 {
		return value, nil
	}
	re := compileSafeRegexp(args[0])
	if re == nil {
		return value, nil
	}
	return re.ReplaceAllString(value, args[1]), nil
}

func filterSplit(value string, args []string) (string, error) {
	if len(args) < 2 {
		return value, nil
	}
	sep := args[0]
	idx, err := strconv.Atoi(args[1])
	if err != nil {
		return value, nil
	}
	parts := strings.Split(value, sep)
	if idx < 0 {
		idx = len(parts) + idx
	}
	if idx >= 0 && idx < len(parts) {
		return parts[idx], nil
	}
	return "", nil
}

func filterTrim(value string, args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return strings.Trim(value, args[0]), nil
	}
	return strings.TrimSpace(value), nil
}

func filterTrimLeft(value string, args []string) (string, error) {
	if len(args) > 0 {
		return strings.TrimLeft(value, args[0]), nil
	}
	return strings.TrimLeft(value, " \t\n\r"), nil
}

func filterTrimRight(value string, args []string) (string, error) {
	if len(args) > 0 {
		return strings.TrimRight(value, args[0]), nil
	}
	return strings.TrimRight(value, " \t\n\r"), nil
}

func filterTrimPrefix(value string, args []string) (string, error) {
	if len(args) < 1 {
		return value, nil
	}
	return strings.TrimPrefix(value, args[0]), nil
}

func filterTrimSuffix(value string, args []string) (string, error) {
	if len(args) < 1 {
		return value, nil
	}
	return strings.TrimSuffix(value, args[0]), nil
}

func filterPrepend(value string, args []string) (string, error) {
	if len(args) < 1 {
		return value, nil
	}
	return args[0] + value, nil
}

func filterAppend(value string, args []string) (string, error) {
	if len(args) < 1 {
		return value, nil
	}
	return value + args[0], nil
}

func filterToLower(value string, args []string) (string, error) {
	return strings.ToLower(value), nil
}

func filterToUpper(value string, args []string) (string, error) {
	return strings.ToUpper(value), nil
}

func filterSubstring(value string, args []string) (string, error) {
	if len(args) < 1 {
		return value, nil
	}
	runes := []rune(value)
	start, err := strconv.Atoi(args[0])
	if err != nil || start < 0 || start > len(runes) {
		return value, nil
	}
	end := len(runes)
	if len(args) > 1 {
		if n, err := strconv.Atoi(args[1]); err == nil && n >= start && n < end {
			end = n
		}
	}
	return string(runes[start:end]), nil
}

func filterFirst(value string, args []string) (string, error) {
	if len(args) < 1 {
		return value, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 {
		return value, nil
	}
	runes := []rune(value)
	if n > len(runes) {
		n = len(runes)
	}
	return string(runes[:n]), nil
}

func filterLast(value string, args []string) (string, error) {
	if len(args) < 1 {
		return value, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 {
		return value, nil
	}
	runes := []rune(value)
	if n > len(runes) {
		n = len(runes)
	}
	return string(runes[len(runes)-n:]), nil
}

func filterPadLeft(value string, args []string) (string, error) {
	width, pad, ok := padArgs(args)
	if !ok {
		return value, nil
	}
	for len([]rune(value)) < width {
		value = pad + value
	}
	return value, nil
}

func filterPadRight(value string, args []string) (string, error) {
	width, pad, ok := padArgs(args)
	if !ok {
		return value, nil
	}
	for len([]rune(value)) < width {
		value += pad
	}
	return value, nil
}

func padArgs(args []string) (int, string, bool) {
	if len(args) < 1 {
		return 0, "", false
	}
	width, err := strconv.Atoi(args[0])
	if err != nil || width <= 0 {
		return 0, "", false
	}
	pad := " "
	if len(args) > 1 && args[1] != "" {
		pad = args[1]
	}
	return width, pad, true
}

// URL processing filters

func filterURLDecode(value string, args []string) (string, error) {
	decoded, err := url.QueryUnescape(value)
	if err != nil {
		return value, nil
	}
	return decoded, nil
}

func filterURLEncode(value string, args []string) (string, error) {
	return url.QueryEscape(value), nil
}

func filterQueryString(value string, args []string) (string, error) {
	if len(args) < 1 {
		return value, nil
	}
	paramName := args[0]

	// Try parsing as full URL first
	u, err := url.Parse(value)
	if err == nil && u.RawQuery != "" {
		return u.Query().Get(paramName), nil
	}

	// Try parsing as query string
	values, err := url.ParseQuery(value)
	if err == nil {
		return values.Get(paramName), nil
	}

	return "", nil
}

func filterPathCombine(value string, args []string) (string, error) {
	parts := append([]string{value}, args...)
	for i, p := range parts {
		parts[i] = strings.Trim(p, "/")
	}
	joined := strings.Join(parts, "/")
	if strings.HasPrefix(value, "/") {
		joined = "/" + joined
	}
	return joined, nil
}

// urlFilterBase picks the base URL for the URL resolution filters: an
// explicit first argument wins, then the context's site link.
func urlFilterBase(args []string, ctx *TemplateContext) string {
	if len(args) > 0 && args[0] != "" {
		return args[0]
	}
	if ctx != nil {
		return ctx.Config["sitelink"]
	}
	return ""
}

// filterAbsoluteURL resolves a possibly relative reference against the
// site link or an explicit base from args.
func filterAbsoluteURL(value string, args []string, ctx *TemplateContext) (string, error) {
	base := urlFilterBase(args, ctx)
	if base == "" {
		return value, nil
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return value, nil
	}
	ref, err := url.Parse(strings.TrimSpace(value))
	if err != nil {
		return value, nil
	}
	return baseURL.ResolveReference(ref).String(), nil
}

// filterBaseURL reduces a URL to its scheme://host root.
func filterBaseURL(value string, args []string, ctx *TemplateContext) (string, error) {
	target := value
	if target == "" {
		target = urlFilterBase(args, ctx)
	}
	u, err := url.Parse(target)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return value, nil
	}
	return u.Scheme + "://" + u.Host, nil
}

// HTML processing filters

func filterHTMLDecode(value string, args []string) (string, error) {
	return html.UnescapeString(value), nil
}

func filterHTMLEncode(value string, args []string) (string, error) {
	return html.EscapeString(value), nil
}

func filterStripTags(value string, args []string) (string, error) {
	re := regexp.MustCompile(`<[^>]*>`)
	return re.ReplaceAllString(value, ""), nil
}

// Regex extraction filter. Returns the first capture group when the
// pattern has one, the full match otherwise, empty string on no match.

func filterRegexp(value string, args []string) (string, error) {
	if len(args) < 1 {
		return value, nil
	}
	re := compileSafeRegexp(args[0])
	if re == nil {
		return value, nil
	}
	matches := re.FindStringSubmatch(value)
	switch {
	case matches == nil:
		return "", nil
	case len(matches) > 1:
		return matches[1], nil
	default:
		return matches[0], nil
	}
}

// Validation and predicate filters

func filterValidate(value string, args []string) (string, error) {
	if len(args) < 1 {
		return value, nil
	}
	allowedValues := strings.Split(args[0], "|")
	for _, allowed := range allowedValues {
		if value == allowed {
			return value, nil
		}
	}
	return "", nil
}

// matchesPredicate treats the arg as a regex when it compiles, a literal
// substring otherwise.
func matchesPredicate(value, pattern string) bool {
	if re := compileSafeRegexp(pattern); re != nil {
		return re.MatchString(value)
	}
	return strings.Contains(value, pattern)
}

func filterContains(value string, args []string) (string, error) {
	if len(args) < 1 {
		return value, nil
	}
	if strings.Contains(value, args[0]) {
		return value, nil
	}
	return "", nil
}

func filterNotContains(value string, args []string) (string, error) {
	if len(args) < 1 {
		return value, nil
	}
	if strings.Contains(value, args[0]) {
		return "", nil
	}
	return value, nil
}

func filterStartsWith(value string, args []string) (string, error) {
	if len(args) < 1 {
		return value, nil
	}
	if strings.HasPrefix(value, args[0]) {
		return value, nil
	}
	return "", nil
}

func filterEndsWith(value string, args []string) (string, error) {
	if len(args) < 1 {
		return value, nil
	}
	if strings.HasSuffix(value, args[0]) {
		return value, nil
	}
	return "", nil
}

func filterIfThenElse(value string, args []string) (string, error) {
	if len(args) < 3 {
		return value, nil
	}
	if matchesPredicate(value, args[0]) {
		return args[1], nil
	}
	return args[2], nil
}

func filterAndMatch(value string, args []string) (string, error) {
	if len(args) == 0 {
		return value, nil
	}
	for _, pattern := range args {
		if !matchesPredicate(value, pattern) {
			return "", nil
		}
	}
	return value, nil
}

func filterOrMatch(value string, args []string) (string, error) {
	if len(args) == 0 {
		return value, nil
	}
	for _, pattern := range args {
		if matchesPredicate(value, pattern) {
			return value, nil
		}
	}
	return "", nil
}

// Size parsing filter. Converts human-readable sizes to a byte count
// string using binary multipliers; "0" when nothing numeric is found.

func filterSize(value string, args []string) (string, error) {
	value = strings.TrimSpace(value)
	value = strings.ReplaceAll(value, ",", "")

	re := regexp.MustCompile(`([\d.]+)\s*([KMGTPE]?I?B?)`)
	matches := re.FindStringSubmatch(strings.ToUpper(value))
	if len(matches) < 2 {
		return "0", nil
	}

	num, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return "0", nil
	}

	var multiplier float64 = 1
	if len(matches) >= 3 {
		unit := matches[2]
		switch {
		case strings.HasPrefix(unit, "K"):
			multiplier = 1024
		case strings.HasPrefix(unit, "M"):
			multiplier = 1024 * 1024
		case strings.HasPrefix(unit, "G"):
			multiplier = 1024 * 1024 * 1024
		case strings.HasPrefix(unit, "T"):
			multiplier = 1024 * 1024 * 1024 * 1024
		case strings.HasPrefix(unit, "P"):
			multiplier = 1024 * 1024 * 1024 * 1024 * 1024
		}
	}

	bytes := int64(num * multiplier)
	return strconv.FormatInt(bytes, 10), nil
}

// Numeric filters

func filterMultiply(value string, args []string) (string, error) {
	if len(args) < 1 {
		return value, nil
	}
	num, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return value, nil
	}
	factor, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return value, nil
	}
	return strconv.FormatFloat(num*factor, 'f', -1, 64), nil
}

func filterDivide(value string, args []string) (string, error) {
	if len(args) < 1 {
		return value, nil
	}
	num, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return value, nil
	}
	divisor, err := strconv.ParseFloat(args[0], 64)
	if err != nil || divisor == 0 {
		return value, nil
	}
	return strconv.FormatFloat(num/divisor, 'f', -1, 64), nil
}

var nonNumericRe = regexp.MustCompile(`[^\d.\-]`)

func filterParseInt(value string, args []string) (string, error) {
	cleaned := nonNumericRe.ReplaceAllString(value, "")
	if f, err := strconv.ParseFloat(cleaned, 64); err == nil {
		return strconv.FormatInt(int64(f), 10), nil
	}
	return "0", nil
}

func filterParseFloat(value string, args []string) (string, error) {
	cleaned := nonNumericRe.ReplaceAllString(value, "")
	if f, err := strconv.ParseFloat(cleaned, 64); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
	return "0", nil
}

// Encoding and hashing filters

func filterBase64Encode(value string, args []string) (string, error) {
	return base64.StdEncoding.EncodeToString([]byte(value)), nil
}

func filterBase64Decode(value string, args []string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		// Some sites omit padding
		decoded, err = base64.RawStdEncoding.DecodeString(value)
		if err != nil {
			return value, nil
		}
	}
	return string(decoded), nil
}

func filterMD5(value string, args []string) (string, error) {
	sum := md5.Sum([]byte(value))
	return hex.EncodeToString(sum[:]), nil
}

func filterSHA1(value string, args []string) (string, error) {
	sum := sha1.Sum([]byte(value))
	return hex.EncodeToString(sum[:]), nil
}

func filterHexDump(value string, args []string) (string, error) {
	return hex.EncodeToString([]byte(value)), nil
}

// JSON filters

func filterJSONPath(value string, args []string) (string, error) {
	if len(args) < 1 || !gjson.Valid(value) {
		return value, nil
	}
	result := gjson.Get(value, args[0])
	if !result.Exists() {
		return "", nil
	}
	return result.String(), nil
}

func filterJSONJoinArray(value string, args []string) (string, error) {
	if len(args) < 2 || !gjson.Valid(value) {
		return value, nil
	}
	path, sep := args[0], args[1]
	var node gjson.Result
	if path == "" || path == "$" || path == "." {
		node = gjson.Parse(value)
	} else {
		node = gjson.Get(value, path)
	}
	if !node.IsArray() {
		return value, nil
	}
	var parts []string
	node.ForEach(func(_, item gjson.Result) bool {
		parts = append(parts, item.String())
		return true
	})
	return strings.Join(parts, sep), nil
}

// Value mapping filters

// filterMapReplace applies positional find/replace pairs where each find
// is treated as a regex.
func filterMapReplace(value string, args []string) (string, error) {
	for i := 0; i+1 < len(args); i += 2 {
		re := compileSafeRegexp(args[i])
		if re == nil {
			continue
		}
		value = re.ReplaceAllString(value, args[i+1])
	}
	return value, nil
}

// filterMapReplaceRaw applies positional find/replace pairs literally.
func filterMapReplaceRaw(value string, args []string) (string, error) {
	for i := 0; i+1 < len(args); i += 2 {
		value = strings.ReplaceAll(value, args[i], args[i+1])
	}
	return value, nil
}

func filterCoalesce(value string, args []string) (string, error) {
	if value != "" {
		return value, nil
	}
	for _, a := range args {
		if a != "" {
			return a, nil
		}
	}
	return "", nil
}

func filterDefault(value string, args []string) (string, error) {
	if value != "" || len(args) < 1 {
		return value, nil
	}
	return args[0], nil
}

// Debug filter

func filterStrDump(value string, args []string) (string, error) {
	// Used for debugging definitions; a no-op in production
	return value, nil
}

// Text processing filters

func filterDiacritics(value string, args []string) (string, error) {
	decomposed := norm.NFD.String(value)
	var result strings.Builder
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		result.WriteRune(r)
	}
	return norm.NFC.String(result.String()), nil
}

func filterNormalize(value string, args []string) (string, error) {
	re := regexp.MustCompile(`\s+`)
	return strings.TrimSpace(re.ReplaceAllString(value, " ")), nil
}

var (
	controlCharsRe  = regexp.MustCompile(`[\x00-\x1f\x7f]`)
	forbiddenNameRe = regexp.MustCompile(`[<>:"/\\|?*]`)
)

func filterValidFilename(value string, args []string) (string, error) {
	value = controlCharsRe.ReplaceAllString(value, "")
	value = forbiddenNameRe.ReplaceAllString(value, "")
	return strings.TrimSpace(value), nil
}
