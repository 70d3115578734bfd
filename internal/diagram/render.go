package diagram

import (
	"context"
	"fmt"
)

// Render renders model in the given format. PNG output is raw image bytes;
// every other format is UTF-8 text.
func Render(ctx context.Context, model *DiagramModel, format Format) ([]byte, error) {
	switch format {
	case FormatMermaid, "":
		return []byte(RenderMermaid(model)), nil
	case FormatDOT:
		s, err := RenderDOT(model)
		if err != nil {
			return nil, err
		}
		return []byte(s), nil
	case FormatASCII:
		return []byte(RenderASCII(model)), nil
	case FormatPNG:
		return RenderImage(ctx, model)
	default:
		return nil, fmt.Errorf("diagram: unsupported format %q (want mermaid, dot, ascii or png)", format)
	}
}
