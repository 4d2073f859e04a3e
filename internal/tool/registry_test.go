package tool

import (
	"context"
	"sync"
	"testing"
)

func stubTool(name string) Func {
	return Func{
		Desc: Descriptor{Name: name, Title: name},
		Fn: func(ctx context.Context, params map[string]interface{}) []Content {
			return []Content{TextContent(name)}
		},
	}
}

func TestRegistryReplaceAll(t *testing.T) {
	r := NewRegistry()
	if r.Len() != 0 {
		t.Fatalf("new registry should be empty, has %d tools", r.Len())
	}

	r.ReplaceAll([]Implementation{stubTool("alpha"), stubTool("beta")})
	if r.Len() != 2 {
		t.Fatalf("expected 2 tools, got %d", r.Len())
	}
	if _, ok := r.Get("alpha"); !ok {
		t.Error("expected tool alpha to be registered")
	}

	r.ReplaceAll([]Implementation{stubTool("gamma")})
	if r.Len() != 1 {
		t.Fatalf("expected 1 tool after replacement, got %d", r.Len())
	}
	if _, ok := r.Get("alpha"); ok {
		t.Error("tool alpha should be gone after replacement")
	}
	if _, ok := r.Get("gamma"); !ok {
		t.Error("expected tool gamma after replacement")
	}
}

func TestRegistryReplaceAllEmpty(t *testing.T) {
	r := NewRegistry()
	r.ReplaceAll([]Implementation{stubTool("alpha")})
	r.ReplaceAll(nil)
	if r.Len() != 0 {
		t.Errorf("expected empty registry, got %d tools", r.Len())
	}
}

// Lookups during a replacement must observe either the old or the new tool
// set, never a partial mixture.
func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	r.ReplaceAll([]Implementation{stubTool("alpha"), stubTool("beta")})

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				descs := r.List()
				if len(descs) != 1 && len(descs) != 2 {
					t.Errorf("observed partial tool set of size %d", len(descs))
					return
				}
				names := map[string]bool{}
				for _, d := range descs {
					names[d.Name] = true
				}
				if names["gamma"] && (names["alpha"] || names["beta"]) {
					t.Errorf("observed tools from both generations: %v", names)
					return
				}
			}
		}()
	}

	for i := 0; i < 100; i++ {
		if i%2 == 0 {
			r.ReplaceAll([]Implementation{stubTool("gamma")})
		} else {
			r.ReplaceAll([]Implementation{stubTool("alpha"), stubTool("beta")})
		}
	}
	close(stop)
	wg.Wait()
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	r.ReplaceAll([]Implementation{stubTool("alpha"), stubTool("beta")})

	descs := r.List()
	if len(descs) != 2 {
		t.Fatalf("expected 2 descriptors, got %d", len(descs))
	}
	names := map[string]bool{}
	for _, d := range descs {
		names[d.Name] = true
	}
	if !names["alpha"] || !names["beta"] {
		t.Errorf("unexpected descriptor names: %v", names)
	}
}

func TestInputSchemaOrderedProperties(t *testing.T) {
	schema := InputSchema{
		Type:          "object",
		PropertyNames: []string{"b", "a"},
		Properties: map[string]Property{
			"a": {Type: "string", Description: "second"},
			"b": {Type: "string", Description: "first"},
		},
	}
	props := schema.OrderedProperties()
	if len(props) != 2 {
		t.Fatalf("expected 2 properties, got %d", len(props))
	}
	if props[0].Name != "b" || props[1].Name != "a" {
		t.Errorf("properties not in definition order: %v", props)
	}
}
