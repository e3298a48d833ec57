package generation

import (
	"strings"

	"z-pixel-ai-api/internal/domain/entity"
	"z-pixel-ai-api/internal/domain/service"
)

// validateRequest 校验请求与变换类型的静态约束。
// 返回的 KindSpec 供后续阶段使用，校验失败返回 ValidationError。
func validateRequest(req *entity.GenerationRequest) (entity.KindSpec, error) {
	spec, ok := entity.SpecFor(req.Kind)
	if !ok {
		return entity.KindSpec{}, &service.ValidationError{
			Field: "kind", Message: "unknown transformation kind: " + string(req.Kind),
		}
	}

	if req.UserID == "" {
		return spec, &service.ValidationError{Field: "user_id", Message: "user id is required"}
	}
	if req.SessionID == "" {
		return spec, &service.ValidationError{Field: "session_id", Message: "session id is required"}
	}

	if err := checkImage("primary_image", req.PrimaryImage, true); err != nil {
		return spec, err
	}

	switch spec.Secondary {
	case entity.SecondaryRequired:
		if err := checkImage("secondary_image", req.SecondaryImage, true); err != nil {
			return spec, err
		}
	case entity.SecondaryNone:
		if req.SecondaryImage != nil {
			return spec, &service.ValidationError{
				Field: "secondary_image", Message: "not accepted for kind " + string(spec.Kind),
			}
		}
	default:
		if err := checkImage("secondary_image", req.SecondaryImage, false); err != nil {
			return spec, err
		}
	}

	if req.MaskImage != nil {
		if spec.Video {
			return spec, &service.ValidationError{
				Field: "mask_image", Message: "mask is not supported for video generation",
			}
		}
		if err := checkImage("mask_image", req.MaskImage, false); err != nil {
			return spec, err
		}
	}

	if spec.RequiresPrompt && strings.TrimSpace(req.Prompt) == "" {
		return spec, &service.ValidationError{
			Field: "prompt", Message: "prompt is required for kind " + string(spec.Kind),
		}
	}

	return spec, nil
}

func checkImage(field string, img *entity.ImageData, required bool) error {
	if img == nil {
		if required {
			return &service.ValidationError{Field: field, Message: "image is required"}
		}
		return nil
	}
	if img.MimeType == "" {
		return &service.ValidationError{Field: field, Message: "mime type is required"}
	}
	if len(img.Data) == 0 {
		return &service.ValidationError{Field: field, Message: "image data is empty"}
	}
	return nil
}
