package grpcclient

import (
	"context"
	"fmt"
	"image"
	"math"

	"google.golang.org/protobuf/types/known/structpb"

	apperrors "github.com/GriffinCanCode/deepwatch/internal/errors"
	"github.com/GriffinCanCode/deepwatch/internal/orchestrator/face"
	"github.com/GriffinCanCode/deepwatch/internal/resilience"
)

// VisionEngine runs face detection and face scoring on the model server.
type VisionEngine struct {
	c       *Client
	breaker *resilience.Breaker
}

// Setup loads the vision model identified by modelID.
func (v *VisionEngine) Setup(ctx context.Context, modelID string) error {
	v.breaker.Reset()
	return v.c.loadModel(ctx, v.breaker, kindVision, modelID)
}

// Clear unloads the vision model.
func (v *VisionEngine) Clear(ctx context.Context) error {
	return v.c.unload(ctx, v.breaker, kindVision)
}

// DetectFaces sends frame scaled down to size and maps the returned boxes
// back to frame coordinates.
func (v *VisionEngine) DetectFaces(ctx context.Context, frame image.Image, size, maxFaces int) ([]face.Region, error) {
	fb := frame.Bounds()
	if fb.Empty() {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "empty frame")
	}
	small := frame
	if size > 0 && (fb.Dx() > size || fb.Dy() > size) {
		small = face.Thumbnail(frame, size)
	}
	scale := float64(fb.Dx()) / float64(small.Bounds().Dx())

	payload, err := encodeImage(small)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInvalidArgument, "encode frame")
	}
	resp, err := v.c.call(ctx, v.breaker, metricDetectFaces, methodDetectFaces, map[string]any{
		"image":     payload,
		"max_faces": maxFaces,
	}, v.c.opts.CallTimeout)
	if err != nil {
		return nil, err
	}

	list := resp.GetFields()["faces"].GetListValue().GetValues()
	regions := make([]face.Region, 0, len(list))
	for i, item := range list {
		r, err := parseRegion(item.GetStructValue(), scale, fb.Min)
		if err != nil {
			return nil, apperrors.Wrapf(err, apperrors.CodeInferenceFailed, "face %d", i)
		}
		regions = append(regions, r)
	}
	return regions, nil
}

func parseRegion(s *structpb.Struct, scale float64, origin image.Point) (face.Region, error) {
	if s == nil {
		return face.Region{}, fmt.Errorf("face entry is not an object")
	}
	var coords [4]float64
	for i, key := range []string{"x0", "y0", "x1", "y1"} {
		n, err := number(s, key)
		if err != nil {
			return face.Region{}, err
		}
		coords[i] = n * scale
	}
	box := image.Rect(
		int(math.Floor(coords[0])), int(math.Floor(coords[1])),
		int(math.Ceil(coords[2])), int(math.Ceil(coords[3])),
	).Add(origin)

	mask, err := decodeMask(s.GetFields()["mask"].GetStringValue())
	if err != nil {
		return face.Region{}, err
	}
	return face.Region{Box: box, Mask: mask}, nil
}

// ScoreFace returns the fake probability of a face crop.
func (v *VisionEngine) ScoreFace(ctx context.Context, img image.Image) (float32, error) {
	payload, err := encodeImage(img)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.CodeInvalidArgument, "encode face")
	}
	resp, err := v.c.call(ctx, v.breaker, metricScoreFace, methodScoreFace, map[string]any{"image": payload}, v.c.opts.CallTimeout)
	if err != nil {
		return 0, err
	}
	score, err := number(resp, "score")
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.CodeInferenceFailed, "score face")
	}
	return float32(score), nil
}
