package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"examreviewer/pkg/domain"
)

const maxJSONBody = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

func init() {
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

type chatRequest struct {
	PDFID        int64           `json:"pdf_id" validate:"required,gt=0"`
	Message      string          `json:"message" validate:"required"`
	SelectedText *string         `json:"selected_text"`
	PageNumber   *int            `json:"page_number" validate:"omitempty,gt=0"`
	Coordinates  json.RawMessage `json:"coordinates"`
}

type explainRequest struct {
	PDFID        int64  `json:"pdf_id" validate:"required,gt=0"`
	SelectedText string `json:"selected_text" validate:"required"`
	PageNumber   int    `json:"page_number" validate:"required,gt=0"`
	CustomPrompt string `json:"custom_prompt"`
}

type translateRequest struct {
	PDFID          int64  `json:"pdf_id" validate:"required,gt=0"`
	SelectedText   string `json:"selected_text" validate:"required"`
	TargetLanguage string `json:"target_language" validate:"max=64"`
}

type summarizeRequest struct {
	PDFID        int64  `json:"pdf_id" validate:"required,gt=0"`
	SelectedText string `json:"selected_text" validate:"required"`
}

type formulaRequest struct {
	PDFID        int64  `json:"pdf_id" validate:"required,gt=0"`
	SelectedText string `json:"selected_text"`
	ImageBase64  string `json:"image_base64"`
	PageNumber   int    `json:"page_number" validate:"gte=0"`
}

type annotationRequest struct {
	PDFID       int64           `json:"pdf_id" validate:"required,gt=0"`
	PageNumber  int             `json:"page_number" validate:"required,gt=0"`
	Type        string          `json:"type" validate:"required,oneof=highlight note"`
	TextContent *string         `json:"text_content"`
	Coordinates json.RawMessage `json:"coordinates" validate:"required"`
	Color       string          `json:"color" validate:"omitempty,hexcolor"`
	NoteText    *string         `json:"note_text"`
}

type annotationUpdateRequest struct {
	PageNumber  *int            `json:"page_number" validate:"omitempty,gt=0"`
	Type        *string         `json:"type" validate:"omitempty,oneof=highlight note"`
	TextContent *string         `json:"text_content"`
	Coordinates json.RawMessage `json:"coordinates"`
	Color       *string         `json:"color" validate:"omitempty,hexcolor"`
	NoteText    *string         `json:"note_text"`
}

func (req annotationUpdateRequest) patch() domain.AnnotationPatch {
	p := domain.AnnotationPatch{
		PageNumber:  req.PageNumber,
		TextContent: req.TextContent,
		Coordinates: req.Coordinates,
		Color:       req.Color,
		NoteText:    req.NoteText,
	}
	if req.Type != nil {
		kind := domain.AnnotationKind(*req.Type)
		p.Kind = &kind
	}
	return p
}

// decodeJSON reads one JSON object into dst and validates it. The returned
// message is safe to show to the client.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) (string, bool) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return "request body required", false
		}
		return "invalid JSON body", false
	}
	if err := validate.Struct(dst); err != nil {
		return validationMessage(err), false
	}
	return "", true
}

func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return "invalid request"
	}
	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s: required", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s: must be one of %s", fe.Field(), fe.Param())
	case "hexcolor":
		return fmt.Sprintf("%s: must be a hex color", fe.Field())
	case "gt":
		return fmt.Sprintf("%s: must be positive", fe.Field())
	case "gte":
		return fmt.Sprintf("%s: must not be negative", fe.Field())
	default:
		return fmt.Sprintf("%s: invalid value", fe.Field())
	}
}
