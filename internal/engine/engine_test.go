package engine

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/etofiasko/tg-bot-v2/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

func sampleRequest() domain.ReportRequest {
	return domain.ReportRequest{
		Region:           "Республика Казахстан",
		Partner:          "Китай",
		Year:             2023,
		Category:         "Продукция АПК",
		Subcategory:      "Зерно",
		ExcludedCodes:    []string{"2709", "2710"},
		MonthRange:       domain.MonthRange{From: 3, To: 7},
		Digits:           6,
		TableSize:        30,
		CountryTableSize: 15,
		TextSize:         7,
		Long:             true,
	}
}

func TestRequestCodecRoundTrip(t *testing.T) {
	req := sampleRequest()
	msg, err := EncodeRequest(req)
	if err != nil {
		t.Fatalf("EncodeRequest failed: %v", err)
	}
	if got := msg.GetFields()["category"].GetStringValue(); got != "Зерно" {
		t.Fatalf("expected subcategory on the wire, got %q", got)
	}
	if got := msg.GetFields()["month_range_raw"].GetStringValue(); got != "3,7" {
		t.Fatalf("expected month range 3,7, got %q", got)
	}

	back := DecodeRequest(msg)
	if back.Partner != req.Partner || back.Year != req.Year || back.Subcategory != req.Subcategory || back.Category != req.Category {
		t.Fatalf("decoded request mismatch: %+v", back)
	}
	if back.MonthRange != req.MonthRange || len(back.ExcludedCodes) != 2 || !back.Long || back.Plain {
		t.Fatalf("decoded request mismatch: %+v", back)
	}
}

func TestDecodeResultLegacyNoData(t *testing.T) {
	msg, err := structpb.NewStruct(map[string]any{"filename": noDataFilename})
	if err != nil {
		t.Fatal(err)
	}
	res, err := DecodeResult(msg)
	if err != nil {
		t.Fatalf("DecodeResult failed: %v", err)
	}
	if res.Status != domain.GenerationNoData {
		t.Fatalf("expected no_data, got %q", res.Status)
	}
}

func TestDecodeResultRejectsEmptyDocument(t *testing.T) {
	msg, err := structpb.NewStruct(map[string]any{"status": "ok", "filename": "x.docx"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecodeResult(msg); !errors.Is(err, ErrBadResponse) {
		t.Fatalf("expected ErrBadResponse, got %v", err)
	}
}

func startBufServer(t *testing.T, gen GeneratorFunc) grpc.DialOption {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterServer(srv, gen)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
}

func TestGrpcEngineGenerate(t *testing.T) {
	var seen domain.ReportRequest
	dial := startBufServer(t, func(_ context.Context, req domain.ReportRequest) (*domain.GenerationResult, error) {
		seen = req
		return &domain.GenerationResult{
			Status:   domain.GenerationOK,
			Document: []byte("PK docx"),
			Filename: "Китай_2023.docx",
		}, nil
	})

	eng, err := NewGrpcEngine(context.Background(), DefaultGrpcConfig("passthrough:///bufnet"), nil, dial)
	if err != nil {
		t.Fatalf("NewGrpcEngine failed: %v", err)
	}
	defer func() { _ = eng.Close() }()

	res, err := eng.Generate(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if string(res.Document) != "PK docx" || res.ShortFilename != "Китай_2023.docx" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if seen.Partner != "Китай" || seen.Digits != 6 {
		t.Fatalf("server saw unexpected request: %+v", seen)
	}
}

func TestGrpcEngineServerError(t *testing.T) {
	dial := startBufServer(t, func(context.Context, domain.ReportRequest) (*domain.GenerationResult, error) {
		return nil, errors.New("template missing")
	})

	eng, err := NewGrpcEngine(context.Background(), DefaultGrpcConfig("passthrough:///bufnet"), nil, dial)
	if err != nil {
		t.Fatalf("NewGrpcEngine failed: %v", err)
	}
	defer func() { _ = eng.Close() }()

	if _, err := eng.Generate(context.Background(), sampleRequest()); err == nil {
		t.Fatal("expected error from failing engine")
	}
}

func TestAddressLoaderUnknownBackend(t *testing.T) {
	l := &AddressLoader{Addresses: map[string]string{"primary": "localhost:1"}}
	if _, err := l.Load(context.Background(), "secondary"); !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("expected ErrEngineUnavailable, got %v", err)
	}
}
