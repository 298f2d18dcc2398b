package main

import (
	"context"
	"fmt"

	"github.com/AaronLay10/OverlayEngine/internal/api"
	"github.com/AaronLay10/OverlayEngine/internal/scene"
)

// anchorTarget receives recognized anchors.
type anchorTarget interface {
	AnchorFound(ctx context.Context, name string, root scene.Node) error
}

// anchorHost stands in for the tracker in headless deployments: it
// builds the anchored model in the scene graph from an HTTP request.
type anchorHost struct {
	graph  *scene.Graph
	ui     scene.Dispatcher
	target anchorTarget
}

func newAnchorHost(graph *scene.Graph, ui scene.Dispatcher, target anchorTarget) *anchorHost {
	return &anchorHost{graph: graph, ui: ui, target: target}
}

// PlaceAnchor implements api.AnchorHost.
func (h *anchorHost) PlaceAnchor(ctx context.Context, req api.AnchorRequest) error {
	type result struct {
		root scene.Node
		err  error
	}
	built := make(chan result, 1)
	h.ui.Post(func() {
		root, err := h.build(req)
		built <- result{root, err}
	})

	var r result
	select {
	case r = <-built:
	case <-ctx.Done():
		return ctx.Err()
	}
	if r.err != nil {
		return r.err
	}
	return h.target.AnchorFound(ctx, req.Name, r.root)
}

// build replaces any previous model with the requested node tree. The
// first node is the model root; later nodes name an earlier parent or
// hang off the root.
func (h *anchorHost) build(req api.AnchorRequest) (scene.Node, error) {
	if len(req.Nodes) == 0 {
		return nil, fmt.Errorf("anchor %q: no nodes", req.Name)
	}
	for _, c := range h.graph.Root().Children() {
		h.graph.Remove(c.Name())
	}

	nodes := make(map[string]*scene.GraphNode, len(req.Nodes))
	var root *scene.GraphNode
	for i, spec := range req.Nodes {
		if spec.Name == "" {
			return nil, fmt.Errorf("anchor %q: node %d has no name", req.Name, i)
		}
		if _, dup := nodes[spec.Name]; dup {
			return nil, fmt.Errorf("anchor %q: duplicate node %q", req.Name, spec.Name)
		}
		t := spec.Transform
		if t == (scene.Transform{}) {
			t = scene.Identity()
		}

		var parent scene.Node
		if i > 0 {
			parent = root
			if spec.Parent != "" {
				p, ok := nodes[spec.Parent]
				if !ok {
					return nil, fmt.Errorf("anchor %q: node %q: unknown parent %q", req.Name, spec.Name, spec.Parent)
				}
				parent = p
			}
		}
		n := h.graph.Add(parent, spec.Name, t)
		nodes[spec.Name] = n
		if i == 0 {
			root = n
		}
	}
	return root, nil
}
