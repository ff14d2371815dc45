package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"reflect"
	"strings"

	"bench2drive-leaderboard/models"
	"bench2drive-leaderboard/utils"

	"github.com/go-playground/validator/v10"
)

const DefaultMaxArtifactBytes = 100 * 1024 * 1024

// ResultParser decodes result artifacts into RunRecords. It has no side effects.
type ResultParser struct {
	MaxBytes int64
	validate *validator.Validate
}

func NewResultParser(maxBytes int64) *ResultParser {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxArtifactBytes
	}
	v := validator.New()
	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &ResultParser{MaxBytes: maxBytes, validate: v}
}

// Parse validates data and returns the decoded record. Any defect fails the whole parse.
func (p *ResultParser) Parse(ctx context.Context, data []byte, contentType string) (*models.RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, ctxError(err)
	}
	if int64(len(data)) > p.MaxBytes {
		return nil, validationf("artifact is %d bytes, limit is %d", len(data), p.MaxBytes)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, validationf("artifact is empty")
	}

	payload := data
	switch detectFormat(contentType, data) {
	case formatZip:
		name, body, err := utils.ExtractResultFile(data, p.MaxBytes)
		if err != nil {
			return nil, validationf("%v", err)
		}
		if !looksLikeJSON(body) {
			return nil, validationf("%s is not a JSON document", name)
		}
		payload = body
	case formatJSON:
	default:
		return nil, validationf("unsupported content type %q", contentType)
	}

	record, err := p.decode(ctx, payload)
	if err != nil {
		return nil, err
	}
	if err := p.check(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

func (p *ResultParser) decode(ctx context.Context, payload []byte) (*models.RunRecord, error) {
	payload = bytes.TrimPrefix(payload, []byte("\ufeff"))
	dec := json.NewDecoder(&ctxReader{ctx: ctx, r: bytes.NewReader(payload)})
	dec.DisallowUnknownFields()

	var record models.RunRecord
	if err := dec.Decode(&record); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxError(ctxErr)
		}
		return nil, validationf("malformed result file: %v", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, validationf("malformed result file: trailing data after the result object")
	}
	return &record, nil
}

func (p *ResultParser) check(ctx context.Context, record *models.RunRecord) error {
	if len(record.Routes) == 0 {
		return validationf("result file has no routes")
	}
	if err := p.validate.Struct(record); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return validationf("%s", describeFieldError(fieldErrs[0]))
		}
		return validationf("%v", err)
	}

	seen := make(map[string]struct{}, len(record.Routes))
	for i, route := range record.Routes {
		if err := ctx.Err(); err != nil {
			return ctxError(err)
		}
		if _, dup := seen[route.RouteID]; dup {
			return validationf("routes[%d]: duplicate route_id %q", i, route.RouteID)
		}
		seen[route.RouteID] = struct{}{}

		for j, inf := range route.Infractions {
			if _, known := InfractionWeights[inf.Type]; !known {
				return validationf("routes[%d].infractions[%d]: unknown infraction type %q", i, j, inf.Type)
			}
		}
	}
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must have at least %s item(s)", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s is too long (max %s)", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be >= %s, got %v", field, fe.Param(), fe.Value())
	case "lte":
		return fmt.Sprintf("%s must be <= %s, got %v", field, fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

type artifactFormat int

const (
	formatUnknown artifactFormat = iota
	formatJSON
	formatZip
)

func detectFormat(contentType string, data []byte) artifactFormat {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = ""
	}
	switch mediaType {
	case "application/json", "text/json":
		return formatJSON
	case "application/zip", "application/x-zip-compressed":
		return formatZip
	}
	// Browsers often send octet-stream or nothing at all; sniff the bytes.
	if bytes.HasPrefix(data, []byte("PK\x03\x04")) {
		return formatZip
	}
	if looksLikeJSON(data) {
		return formatJSON
	}
	return formatUnknown
}

func looksLikeJSON(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n\ufeff")
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// ctxReader fails reads once ctx is done, so a long decode stops at the next read.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(b []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	if len(b) > 32*1024 {
		b = b[:32*1024]
	}
	return c.r.Read(b)
}

// ctxError reports deadline and cancellation alike as ErrTimeout.
func ctxError(err error) error {
	return fmt.Errorf("%w: %v", ErrTimeout, err)
}
