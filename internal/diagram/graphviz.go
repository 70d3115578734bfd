package diagram

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"
)

// RenderImage lays out the DOT form of model with the embedded graphviz
// engine and returns PNG bytes. Styling comes entirely from RenderDOT.
func RenderImage(ctx context.Context, model *DiagramModel) ([]byte, error) {
	src, err := RenderDOT(model)
	if err != nil {
		return nil, err
	}

	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("diagram: start graphviz: %w", err)
	}
	defer gv.Close()

	graph, err := graphviz.ParseBytes([]byte(src))
	if err != nil {
		return nil, fmt.Errorf("diagram: parse dot: %w", err)
	}
	defer graph.Close()

	var buf bytes.Buffer
	if err := gv.Render(ctx, graph, graphviz.PNG, &buf); err != nil {
		return nil, fmt.Errorf("diagram: render png: %w", err)
	}
	return buf.Bytes(), nil
}
