package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/jonwraymond/toolfoundation/model"
)

// stubTransport implements Transport for testing.
type stubTransport struct {
	kind string
	name string
}

func (s *stubTransport) Kind() string                    { return s.kind }
func (s *stubTransport) Name() string                    { return s.name }
func (s *stubTransport) Connect(_ context.Context) error { return nil }
func (s *stubTransport) Call(_ context.Context, _ string, _ map[string]any) (any, error) {
	return nil, nil
}
func (s *stubTransport) ListTools(_ context.Context) ([]model.Tool, error) { return nil, nil }
func (s *stubTransport) Close() error                                      { return nil }

func stubFactory(kind string) Factory {
	return func(d Descriptor) (Transport, error) {
		return &stubTransport{kind: kind, name: d.Name}, nil
	}
}

func TestRegistry_Build(t *testing.T) {
	registry := NewRegistry()
	registry.RegisterFactory("local", stubFactory("local"))

	tr, err := registry.Build(Descriptor{Name: "builtin", Transport: "local"})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if tr.Name() != "builtin" || tr.Kind() != "local" {
		t.Errorf("Build() = %s/%s, want builtin/local", tr.Kind(), tr.Name())
	}
}

func TestRegistry_BuildUnknownKind(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.Build(Descriptor{Name: "x", Transport: "grpc"})
	if !errors.Is(err, ErrUnknownTransport) {
		t.Errorf("Build() error = %v, want ErrUnknownTransport", err)
	}
}

func TestRegistry_BuildInvalidDescriptor(t *testing.T) {
	registry := NewRegistry()
	registry.RegisterFactory("stdio", stubFactory("stdio"))

	if _, err := registry.Build(Descriptor{Name: "aws", Transport: "stdio"}); err == nil {
		t.Error("Build() should reject a stdio descriptor without a command")
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	registry := NewRegistry()
	registry.RegisterFactory("local", func(Descriptor) (Transport, error) {
		return nil, errors.New("boom")
	})

	if _, err := registry.Build(Descriptor{Name: "x", Transport: "local"}); err == nil {
		t.Error("Build() should surface factory errors")
	}
}

func TestRegistry_Kinds(t *testing.T) {
	registry := NewRegistry()
	registry.RegisterFactory("stdio", stubFactory("stdio"))
	registry.RegisterFactory("bus", stubFactory("bus"))
	registry.RegisterFactory("", stubFactory("ignored"))
	registry.RegisterFactory("nil", nil)

	kinds := registry.Kinds()
	if len(kinds) != 2 || kinds[0] != "bus" || kinds[1] != "stdio" {
		t.Errorf("Kinds() = %v, want [bus stdio]", kinds)
	}
	if !registry.Has("bus") || registry.Has("nil") {
		t.Error("Has() reports unexpected registrations")
	}
}
