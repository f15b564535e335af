package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"testing"

	"statement-relay/internal/parser"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const sampleCSV = "Type,Amount,Description,Balance\nDEBIT,12.34,AMAZON MKTPLACE PMTS WA,500.00\nCREDIT,100.00,PAYROLL,600.00\n"

type formPart struct {
	field    string
	fileName string
	mimeType string
	content  string
}

func writeParts(w *multipart.Writer, parts ...formPart) error {
	for _, p := range parts {
		header := textproto.MIMEHeader{}
		if p.fileName != "" {
			header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, p.field, p.fileName))
		} else {
			header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q`, p.field))
		}
		if p.mimeType != "" {
			header.Set("Content-Type", p.mimeType)
		}
		pw, err := w.CreatePart(header)
		if err != nil {
			return err
		}
		if _, err := io.WriteString(pw, p.content); err != nil {
			return err
		}
	}
	return nil
}

func multipartBody(t *testing.T, parts ...formPart) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := writeParts(w, parts...); err != nil {
		t.Fatalf("writeParts: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return &buf, w.FormDataContentType()
}

func newTestUploadService(t *testing.T, maxBytes int64) (*UploadService, *memoryStore) {
	t.Helper()
	svc, store, _ := newTestTransactionService(t)
	factory := parser.NewFactory(nil, parser.Options{}, zap.NewNop())
	return NewUploadService(factory, svc, maxBytes, zap.NewNop()), store
}

func TestUploadService_CSV(t *testing.T) {
	up, store := newTestUploadService(t, 1<<20)
	body, ct := multipartBody(t, formPart{field: "file", fileName: "chase.csv", mimeType: "text/csv", content: sampleCSV})
	user := uuid.New()

	res, err := up.Upload(context.Background(), UploadRequest{UserID: user, ContentType: ct, Body: body})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if res.MimeType != parser.MimeTypeCSV || res.FileName != "chase.csv" || len(res.Transactions) != 2 {
		t.Fatalf("result = %+v", res)
	}
	if len(store.rows) != 2 || store.rows[0].UserID != user {
		t.Fatalf("stored %d rows", len(store.rows))
	}
	if store.rows[0].Description != "AMAZON MKTPLACE PMTS" {
		t.Errorf("first row = %q", store.rows[0].Description)
	}
}

func TestUploadService_FirstFileWins(t *testing.T) {
	up, store := newTestUploadService(t, 1<<20)
	body, ct := multipartBody(t,
		formPart{field: "note", content: "hello"},
		formPart{field: "file", fileName: "a.csv", mimeType: "text/csv", content: sampleCSV},
		formPart{field: "file", fileName: "b.csv", mimeType: "text/csv", content: "Type,Amount,Description\nDEBIT,1.00,SECOND\n"},
	)

	res, err := up.Upload(context.Background(), UploadRequest{UserID: uuid.New(), ContentType: ct, Body: body})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if res.FileName != "a.csv" || len(store.rows) != 2 {
		t.Fatalf("file %q, stored %d rows", res.FileName, len(store.rows))
	}
	for _, tx := range store.rows {
		if tx.Description == "SECOND" {
			t.Fatal("second file was parsed")
		}
	}
}

func TestUploadService_StreamAbortPersistsNothing(t *testing.T) {
	up, store := newTestUploadService(t, 1<<20)

	pr, pw := io.Pipe()
	w := multipart.NewWriter(pw)
	go func() {
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", `form-data; name="file"; filename="s.csv"`)
		header.Set("Content-Type", "text/csv")
		part, _ := w.CreatePart(header)
		_, _ = io.WriteString(part, "Type,Amount,Description\nDEBIT,1.00,HALF")
		pw.CloseWithError(errors.New("client went away"))
	}()

	_, err := up.Upload(context.Background(), UploadRequest{UserID: uuid.New(), ContentType: w.FormDataContentType(), Body: pr})
	var abort *StreamAbortError
	if !errors.As(err, &abort) {
		t.Fatalf("error = %v, want *StreamAbortError", err)
	}
	if len(store.rows) != 0 {
		t.Fatalf("stored %d rows after abort", len(store.rows))
	}
}

func TestUploadService_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		parts   []formPart
		maxSize int64
		want    error
	}{
		{
			name:    "unsupported type",
			parts:   []formPart{{field: "file", fileName: "notes.txt", mimeType: "text/plain", content: "hi"}},
			maxSize: 1 << 20,
			want:    parser.ErrUnsupportedFileType,
		},
		{
			name:    "spreadsheet",
			parts:   []formPart{{field: "file", fileName: "s.xlsx", content: "PK"}},
			maxSize: 1 << 20,
			want:    parser.ErrUnsupportedFileType,
		},
		{
			name:    "no file",
			parts:   []formPart{{field: "comment", content: "nothing attached"}},
			maxSize: 1 << 20,
			want:    ErrNoFilePart,
		},
		{
			name:    "too large",
			parts:   []formPart{{field: "file", fileName: "big.csv", mimeType: "text/csv", content: sampleCSV}},
			maxSize: 16,
			want:    ErrFileTooLarge,
		},
		{
			name: "bad row policy",
			parts: []formPart{
				{field: "rowPolicy", content: "sometimes"},
				{field: "file", fileName: "a.csv", mimeType: "text/csv", content: sampleCSV},
			},
			maxSize: 1 << 20,
			want:    ErrInvalidUpload,
		},
		{
			name:    "nothing parseable",
			parts:   []formPart{{field: "file", fileName: "a.csv", mimeType: "text/csv", content: "Type,Amount,Description\n"}},
			maxSize: 1 << 20,
			want:    parser.ErrEmptyResult,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up, store := newTestUploadService(t, tt.maxSize)
			body, ct := multipartBody(t, tt.parts...)

			_, err := up.Upload(context.Background(), UploadRequest{UserID: uuid.New(), ContentType: ct, Body: body})
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			if len(store.rows) != 0 {
				t.Errorf("stored %d rows", len(store.rows))
			}
		})
	}
}

func TestUploadService_NotMultipart(t *testing.T) {
	up, _ := newTestUploadService(t, 1<<20)

	_, err := up.Upload(context.Background(), UploadRequest{UserID: uuid.New(), ContentType: "application/json", Body: bytes.NewReader([]byte("{}"))})
	if !errors.Is(err, ErrInvalidUpload) {
		t.Fatalf("error = %v, want ErrInvalidUpload", err)
	}
}

func TestUploadService_StrictPolicyFromForm(t *testing.T) {
	up, store := newTestUploadService(t, 1<<20)
	body, ct := multipartBody(t,
		formPart{field: "file", fileName: "a.csv", mimeType: "text/csv", content: "Type,Amount,Description\nDEBIT,1.00,OK\nDEBIT,x,BAD\n"},
		formPart{field: "rowPolicy", content: "strict"},
	)

	_, err := up.Upload(context.Background(), UploadRequest{UserID: uuid.New(), ContentType: ct, Body: body})
	var perr *parser.ParseError
	if !errors.As(err, &perr) || perr.Line != 3 {
		t.Fatalf("error = %v, want ParseError on line 3", err)
	}
	if len(store.rows) != 0 {
		t.Errorf("stored %d rows", len(store.rows))
	}
}

func TestUploadService_CancelledBeforePersist(t *testing.T) {
	up, store := newTestUploadService(t, 1<<20)
	body, ct := multipartBody(t, formPart{field: "file", fileName: "a.csv", mimeType: "text/csv", content: sampleCSV})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := up.Upload(ctx, UploadRequest{UserID: uuid.New(), ContentType: ct, Body: body})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if len(store.rows) != 0 {
		t.Errorf("stored %d rows", len(store.rows))
	}
}

func TestResolvePartMimeType(t *testing.T) {
	tests := []struct {
		fileName, declared, want string
	}{
		{"a.csv", "", parser.MimeTypeCSV},
		{"a.csv", "application/octet-stream", parser.MimeTypeCSV},
		{"a.csv", "application/vnd.ms-excel", parser.MimeTypeCSV},
		{"a.PDF", "", parser.MimeTypePDF},
		{"scan.jpg", "Image/JPEG", parser.MimeTypeJPEG},
		{"a.bin", "application/octet-stream", "application/octet-stream"},
		{"a.txt", "text/plain; charset=utf-8", "text/plain"},
	}

	for _, tt := range tests {
		body, ct := multipartBody(t, formPart{field: "file", fileName: tt.fileName, mimeType: tt.declared, content: "x"})
		_, params, _ := mime.ParseMediaType(ct)
		part, err := multipart.NewReader(body, params["boundary"]).NextPart()
		if err != nil {
			t.Fatalf("NextPart: %v", err)
		}
		if got := resolvePartMimeType(part); got != tt.want {
			t.Errorf("resolvePartMimeType(%q, %q) = %q, want %q", tt.fileName, tt.declared, got, tt.want)
		}
	}
}
