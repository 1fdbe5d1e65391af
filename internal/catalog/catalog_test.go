package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFetchCatalog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/keyboard_list.json", r.URL.Path)
		_, _ = w.Write([]byte(`{"keyboards":["clueboard/66/rev4","planck/rev6"]}`))
	}))
	defer srv.Close()

	s := NewSource(srv.URL, "", 5*time.Second)
	targets, err := s.FetchCatalog(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"clueboard/66/rev4", "planck/rev6"}, targets)
}

func TestFetchCatalog_ToleratesUTF8BOM(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(append([]byte{0xEF, 0xBB, 0xBF}, []byte(`{"keyboards":["planck/rev6"]}`)...))
	}))
	defer srv.Close()

	s := NewSource(srv.URL, "", 5*time.Second)
	targets, err := s.FetchCatalog(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"planck/rev6"}, targets)
}

func TestFetchCatalog_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream broken", http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewSource(srv.URL, "", 5*time.Second)
	_, err := s.FetchCatalog(context.Background())
	require.Error(t, err)
}

func TestFetchMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/keyboards/planck/rev6/info.json", r.URL.Path)
		_, _ = w.Write([]byte(`{"keyboards":{"planck/rev6":{
			"keymaps":{"default":{"url":"https://example.invalid/km.json"}},
			"layouts":{"LAYOUT_ortho_4x12":{"layout":[{"x":0,"y":0},{"x":1,"y":0}]}}
		}}}`))
	}))
	defer srv.Close()

	s := NewSource(srv.URL, "", 5*time.Second)
	md, err := s.FetchMetadata(context.Background(), "planck/rev6")
	require.NoError(t, err)
	require.NotNil(t, md)
	require.Equal(t, "https://example.invalid/km.json", md.Keymaps["default"].URL)
	require.Len(t, md.Layouts["LAYOUT_ortho_4x12"].Layout, 2)
}

func TestFetchMetadata_UnknownTarget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"keyboards":{}}`))
	}))
	defer srv.Close()

	s := NewSource(srv.URL, "", 5*time.Second)
	md, err := s.FetchMetadata(context.Background(), "ghost/board")
	require.NoError(t, err)
	require.Nil(t, md)
}

func TestResolveKeymap_HostedDefault(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/km.json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"keyboard":"planck/rev6","keymap":"default","layout":"LAYOUT_ortho_4x12","layers":[["KC_A"]]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := NewSource(srv.URL, srv.URL+"/keymaps", 5*time.Second)
	md := &Metadata{Keymaps: map[string]KeymapRef{"default": {URL: srv.URL + "/km.json"}}}

	km, err := s.ResolveKeymap(context.Background(), "planck/rev6", md)
	require.NoError(t, err)
	require.Equal(t, "planck/rev6", km.Keyboard)
	require.Equal(t, "default", km.Keymap)
	require.Equal(t, [][]string{{"KC_A"}}, km.Layers)
}

func TestResolveKeymap_ConfiguratorFallback(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/keymaps/p/planck_rev6_default.json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"layout":"LAYOUT_ortho_4x12","layers":[["KC_B"]]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := NewSource(srv.URL, srv.URL+"/keymaps", 5*time.Second)
	md := &Metadata{Layouts: map[string]Layout{"LAYOUT_ortho_4x12": {Layout: []KeyPosition{{X: 0}, {X: 1}}}}}

	km, err := s.ResolveKeymap(context.Background(), "planck/rev6", md)
	require.NoError(t, err)
	require.Equal(t, "planck/rev6", km.Keyboard)
	require.Equal(t, "default", km.Keymap)
	require.Equal(t, [][]string{{"KC_B"}}, km.Layers)
}

func TestResolveKeymap_EmptyKeymapSynthesis(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	s := NewSource(srv.URL, srv.URL+"/keymaps", 5*time.Second)
	md := &Metadata{Layouts: map[string]Layout{
		"LAYOUT_60": {Layout: []KeyPosition{{X: 0}, {X: 1}, {X: 2}}},
	}}

	km, err := s.ResolveKeymap(context.Background(), "some/board", md)
	require.NoError(t, err)
	require.Equal(t, "some/board", km.Keyboard)
	require.Equal(t, "buildwatch", km.Keymap)
	require.Equal(t, "LAYOUT_60", km.Layout)
	require.Len(t, km.Layers, 2)
	require.Equal(t, []string{"KC_NO", "KC_NO", "KC_NO"}, km.Layers[0])
	require.Equal(t, []string{"KC_TRNS", "KC_TRNS", "KC_TRNS"}, km.Layers[1])
}

func TestResolveKeymap_NoMetadata(t *testing.T) {
	s := NewSource("http://unused.invalid", "", time.Second)
	_, err := s.ResolveKeymap(context.Background(), "ghost/board", nil)
	require.Error(t, err)
}

func TestResolveKeymap_NoLayouts(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	s := NewSource(srv.URL, srv.URL+"/keymaps", 5*time.Second)
	_, err := s.ResolveKeymap(context.Background(), "bare/board", &Metadata{})
	require.Error(t, err)
}
