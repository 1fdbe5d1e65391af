package catalog

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	bwerrors "git.home.luguber.info/inful/buildwatch/internal/errors"
)

// Keymap is the submission payload for one test compile.
type Keymap struct {
	Keyboard string     `json:"keyboard"`
	Keymap   string     `json:"keymap"`
	Layout   string     `json:"layout"`
	Layers   [][]string `json:"layers"`
}

// ResolveKeymap derives the compile payload for a target: the hosted default
// keymap when metadata names one, else the configurator's conventional keymap
// location, else an empty keymap synthesized from one of the target's layouts.
func (s *Source) ResolveKeymap(ctx context.Context, target string, md *Metadata) (*Keymap, error) {
	if md == nil {
		return nil, bwerrors.MetadataMissing(target)
	}

	var km Keymap
	if ref, ok := md.Keymaps["default"]; ok && ref.URL != "" {
		if err := s.fetchJSON(ctx, ref.URL, &km); err == nil && km.Keyboard != "" {
			fillKeymapDefaults(&km, target)
			return &km, nil
		}
	}

	fallbackURL := fmt.Sprintf("%s/%c/%s_default.json",
		s.keymapURL, target[0], strings.ReplaceAll(target, "/", "_"))
	if err := s.fetchJSON(ctx, fallbackURL, &km); err == nil && len(km.Layers) > 0 {
		fillKeymapDefaults(&km, target)
		return &km, nil
	}

	empty, err := emptyKeymap(target, md)
	if err != nil {
		return nil, err
	}
	return empty, nil
}

// emptyKeymap builds a two-layer no-op keymap from a randomly chosen layout:
// layer 0 all KC_NO, layer 1 all KC_TRNS.
func emptyKeymap(target string, md *Metadata) (*Keymap, error) {
	if len(md.Layouts) == 0 {
		return nil, bwerrors.New(bwerrors.CategoryCatalog, bwerrors.SeverityWarning, "target has no layouts").
			WithContext("target", target)
	}

	names := make([]string, 0, len(md.Layouts))
	for name := range md.Layouts {
		names = append(names, name)
	}
	macro := names[rand.Intn(len(names))]
	keyCount := len(md.Layouts[macro].Layout)

	noLayer := make([]string, keyCount)
	trnsLayer := make([]string, keyCount)
	for i := 0; i < keyCount; i++ {
		noLayer[i] = "KC_NO"
		trnsLayer[i] = "KC_TRNS"
	}

	return &Keymap{
		Keyboard: target,
		Keymap:   "buildwatch",
		Layout:   macro,
		Layers:   [][]string{noLayer, trnsLayer},
	}, nil
}

func fillKeymapDefaults(km *Keymap, target string) {
	if km.Keyboard == "" {
		km.Keyboard = target
	}
	if km.Layout == "" {
		km.Layout = "Unknown"
	}
	if km.Keymap == "" {
		km.Keymap = "default"
	}
}
