// Package factory provides the generic registry used to build metrics sinks
// and trace stores from configuration. A module is a type string and a map of
// raw settings; its factory decodes the settings with Decode and returns the
// concrete implementation.
//
// Example usage:
//
//	reg := factory.NewRegistry[trace.Store]()
//	reg.Register("jsonl", func(conf map[string]any) (trace.Store, error) {
//	    var c struct{ Path string `json:"path"` }
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return trace.NewJSONLStore(c.Path)
//	})
//	s, err := reg.Create(factory.ModuleConfig{Type: "jsonl", Conf: map[string]any{"path": "run.jsonl"}})
package factory
