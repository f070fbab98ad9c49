package prelude

import (
	"fmt"
	"sort"
	"strings"
)

// EntryKey is the bundle key of an entry given as source text.
const EntryKey = "<entry>"

// Bundle is one compiled plugin entry: a single Lua chunk with every
// reachable local module inlined. It lives only as long as its caller
// holds it.
type Bundle struct {
	Plugin string
	// Entry is the bundle key of the entry module.
	Entry string
	Text  string
	// Modules lists the inlined module keys, entry first.
	Modules []string
	// Externals lists the ids left as run-time requires, sorted.
	Externals []string
	// Digest is the keyed BLAKE3 hash of Text, hex encoded.
	Digest string
}

// module is one inlined source file.
type module struct {
	key    string
	source string
	// imports maps each literal require id in source to its bundle key.
	// External ids are absent.
	imports map[string]string
}

// render emits the bundle chunk. Each module body becomes a function
// receiving a require scoped to that module's imports; ids without a
// mapping fall through to the runtime require.
func render(plugin, entry string, modules []*module) string {
	var b strings.Builder

	fmt.Fprintf(&b, "-- bundle of plugin %s\n", sanitizeComment(plugin))
	b.WriteString("local __bundle = { modules = {}, maps = {}, loaded = {}, loading = {} }\n")
	b.WriteString("local __external = require\n")
	b.WriteString("local __require_from\n")

	for _, m := range modules {
		fmt.Fprintf(&b, "__bundle.modules[%s] = function(require, ...)\n", luaQuote(m.key))
		b.WriteString(m.source)
		b.WriteString("\nend\n")

		ids := make([]string, 0, len(m.imports))
		for id := range m.imports {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		fmt.Fprintf(&b, "__bundle.maps[%s] = {", luaQuote(m.key))
		for _, id := range ids {
			fmt.Fprintf(&b, " [%s] = %s,", luaQuote(id), luaQuote(m.imports[id]))
		}
		b.WriteString(" }\n")
	}

	b.WriteString(`__require_from = function(from)
  local map = __bundle.maps[from]
  return function(id)
    local key = map[id]
    if key == nil then
      return __external(id)
    end
    local cached = __bundle.loaded[key]
    if cached ~= nil then
      return cached
    end
    if __bundle.loading[key] then
      error("circular require of " .. key, 2)
    end
    __bundle.loading[key] = true
    local value = __bundle.modules[key](__require_from(key), id)
    __bundle.loading[key] = nil
    if value == nil then
      value = true
    end
    __bundle.loaded[key] = value
    return value
  end
end
`)
	fmt.Fprintf(&b, "return __bundle.modules[%[1]s](__require_from(%[1]s))\n", luaQuote(entry))
	return b.String()
}

// luaQuote renders s as a Lua 5.1 string literal.
func luaQuote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' || c == '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case c == '\n':
			b.WriteString(`\n`)
		case c < 0x20 || c == 0x7f:
			fmt.Fprintf(&b, `\%03d`, c)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func sanitizeComment(s string) string {
	return strings.NewReplacer("\n", " ", "\r", " ").Replace(s)
}
