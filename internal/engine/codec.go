package engine

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/etofiasko/tg-bot-v2/internal/domain"
	"google.golang.org/protobuf/types/known/structpb"
)

// noDataFilename is what older engine builds return instead of a status.
const noDataFilename = "Данных нет"

// EncodeRequest converts a report request into the engine's wire message.
// Field names follow the engine's generate_trade_document keyword arguments.
func EncodeRequest(req domain.ReportRequest) (*structpb.Struct, error) {
	plain := 0
	if req.Plain {
		plain = 1
	}
	// The engine filters goods by the most specific category it is given.
	category := req.Subcategory
	if category == "" {
		category = req.Category
	}

	msg, err := structpb.NewStruct(map[string]any{
		"region":             req.Region,
		"country_or_group":   req.Partner,
		"year":               req.Year,
		"digit":              req.Digits,
		"category":           category,
		"category_parent":    req.Category,
		"text_size":          req.TextSize,
		"table_size":         req.TableSize,
		"country_table_size": req.CountryTableSize,
		"month_range_raw":    req.MonthRange.String(),
		"exclude_raw":        strings.Join(req.ExcludedCodes, ","),
		"tn_ved_raw":         req.GoodsCode,
		"plain":              plain,
		"long":               req.Long,
	})
	if err != nil {
		return nil, fmt.Errorf("encode report request: %w", err)
	}
	return msg, nil
}

// DecodeRequest is the inverse of EncodeRequest, used by engine-side servers.
func DecodeRequest(msg *structpb.Struct) domain.ReportRequest {
	f := msg.GetFields()
	req := domain.ReportRequest{
		Region:           f["region"].GetStringValue(),
		Partner:          f["country_or_group"].GetStringValue(),
		Year:             int(f["year"].GetNumberValue()),
		Digits:           int(f["digit"].GetNumberValue()),
		Category:         f["category_parent"].GetStringValue(),
		TextSize:         int(f["text_size"].GetNumberValue()),
		TableSize:        int(f["table_size"].GetNumberValue()),
		CountryTableSize: int(f["country_table_size"].GetNumberValue()),
		GoodsCode:        f["tn_ved_raw"].GetStringValue(),
		Plain:            f["plain"].GetNumberValue() == 1,
		Long:             f["long"].GetBoolValue(),
	}
	if sub := f["category"].GetStringValue(); sub != req.Category {
		req.Subcategory = sub
	}
	if raw := f["exclude_raw"].GetStringValue(); raw != "" {
		req.ExcludedCodes = strings.Split(raw, ",")
	}
	var from, to int
	switch n, _ := fmt.Sscanf(f["month_range_raw"].GetStringValue(), "%d,%d", &from, &to); n {
	case 1:
		req.MonthRange = domain.MonthRange{From: from, To: from}
	case 2:
		req.MonthRange = domain.MonthRange{From: from, To: to}
	}
	return req
}

// EncodeResult converts a generation result into the engine's reply message.
func EncodeResult(res *domain.GenerationResult) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"status":          string(res.Status),
		"filename":        res.Filename,
		"short_filename":  res.ShortFilename,
		"document_base64": base64.StdEncoding.EncodeToString(res.Document),
	})
}

// DecodeResult converts the engine's reply message into a generation result.
func DecodeResult(msg *structpb.Struct) (*domain.GenerationResult, error) {
	f := msg.GetFields()
	res := &domain.GenerationResult{
		Status:        domain.GenerationStatus(f["status"].GetStringValue()),
		Filename:      f["filename"].GetStringValue(),
		ShortFilename: f["short_filename"].GetStringValue(),
	}
	if res.Status == "" {
		res.Status = domain.GenerationOK
		if res.Filename == noDataFilename {
			res.Status = domain.GenerationNoData
		}
	}

	switch res.Status {
	case domain.GenerationNoData:
		return res, nil
	case domain.GenerationOK:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrBadResponse, res.Status)
	}

	doc, err := base64.StdEncoding.DecodeString(f["document_base64"].GetStringValue())
	if err != nil {
		return nil, fmt.Errorf("%w: document: %v", ErrBadResponse, err)
	}
	if len(doc) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrBadResponse)
	}
	res.Document = doc
	if res.ShortFilename == "" {
		res.ShortFilename = res.Filename
	}
	return res, nil
}
