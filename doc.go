// File: lixenwraith/confgraph/doc.go

// Package confgraph loads YAML configuration documents whose values can be
// live program objects. Custom tags in the document build objects through a
// resolver, point at other values, or compute expressions:
//
//	database:
//	  host: db.internal
//	  url: !!ref:database.host:5432      # "db.internal:5432", read live
//	clock: !!object/call:time.Now        # called once while loading
//	logger: !!object/lazy:log.New        # called on first read
//	  kwargs: {prefix: app}
//	timeout: !!expr "2 * 15"             # evaluated on every read
//
// Object tags take one of three forms:
//   - !!object:path stores the resolved value; a mapping body is applied as attributes
//   - !!object/call:path invokes the resolved callable during loading
//   - !!object/lazy:path invokes it on the first read and memoizes the result
//
// Names are resolved through a NameResolver. DefaultSymbols() registers a small
// set of stdlib symbols; applications add their own with RegisterSymbol or a
// private SymbolTable:
//
//	symbols := confgraph.NewSymbolTable().
//	    MustRegister("app.NewServer", confgraph.Factory(newServer))
//
//	cfg, err := confgraph.NewBuilder().
//	    WithResolver(symbols).
//	    WithFile("config.yaml").
//	    WithEnvPrefix("APP_").
//	    WithArgs(os.Args[1:]).
//	    Build()
//
//	server, err := cfg.Get("server")
//
// Tags are registered in a Registry. The default registry carries the object,
// ref and expr tags; NewRegistry returns an empty one for custom tag sets.
// Rendering a Config with String or Save writes the tags back so a rendered
// document loads to an equivalent configuration.
//
// Later files override earlier ones at the top level. Environment variables and
// command-line arguments override file values and are applied in that order.
//
// Thread Safety:
// Config guards its trees with a read-write mutex. Deferred values memoize
// under their own locks so concurrent reads construct each object once.
package confgraph
