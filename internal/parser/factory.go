package parser

import (
	"fmt"
	"mime"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

const (
	MimeTypeCSV  = "text/csv"
	MimeTypePDF  = "application/pdf"
	MimeTypeJPEG = "image/jpeg"
	MimeTypePNG  = "image/png"
	MimeTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var transcriptExtensions = map[string]string{
	MimeTypePDF:  ".pdf",
	MimeTypeJPEG: ".jpg",
	MimeTypePNG:  ".png",
}

var extensionMimeTypes = map[string]string{
	".csv":  MimeTypeCSV,
	".pdf":  MimeTypePDF,
	".jpg":  MimeTypeJPEG,
	".jpeg": MimeTypeJPEG,
	".png":  MimeTypePNG,
	".xlsx": MimeTypeXLSX,
}

// MimeTypeFromFileName guesses a statement's type from its extension.
func MimeTypeFromFileName(name string) (string, bool) {
	mt, ok := extensionMimeTypes[strings.ToLower(filepath.Ext(name))]
	return mt, ok
}

// Options tune a single parse. The zero value means "use factory defaults".
type Options struct {
	RowPolicy RowErrorPolicy
	FileName  string
}

// MimeTypeFilter can be implemented by a TextExtractor that only understands
// some document types; the factory will not offer the others.
type MimeTypeFilter interface {
	HandlesMimeType(mimeType string) bool
}

type constructor func(opts Options) Parser

// Factory maps MIME types to parsers. IsSupported and Parser read the same
// registry, so a type reported as supported always yields a parser.
type Factory struct {
	registry map[string]constructor
	rejected map[string]string
	defaults Options
	logger   *zap.Logger
}

func NewFactory(extractor TextExtractor, defaults Options, logger *zap.Logger) *Factory {
	if defaults.RowPolicy == "" {
		defaults.RowPolicy = RowPolicyLenient
	}

	f := &Factory{
		registry: make(map[string]constructor),
		rejected: map[string]string{
			MimeTypeXLSX: "spreadsheet workbooks are not supported, export the statement as CSV",
		},
		defaults: defaults,
		logger:   logger,
	}

	f.registry[MimeTypeCSV] = func(opts Options) Parser {
		return NewCSVParser(opts.RowPolicy, logger.With(zap.String("parser", "csv")))
	}

	if extractor != nil {
		filter, _ := extractor.(MimeTypeFilter)
		for _, mt := range []string{MimeTypePDF, MimeTypeJPEG, MimeTypePNG} {
			if filter != nil && !filter.HandlesMimeType(mt) {
				continue
			}
			defaultName := "document" + transcriptExtensions[mt]
			f.registry[mt] = func(opts Options) Parser {
				name := opts.FileName
				if name == "" {
					name = defaultName
				}
				return NewTranscriptParser(extractor, name, logger.With(zap.String("parser", "transcript")))
			}
		}
	}

	return f
}

// NormalizeMimeType lower-cases a content type and drops its parameters, so
// "Text/CSV; charset=utf-8" and "text/csv" select the same parser.
func NormalizeMimeType(mimeType string) string {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(mimeType))
	}
	return mediaType
}

func (f *Factory) IsSupported(mimeType string) bool {
	_, ok := f.registry[NormalizeMimeType(mimeType)]
	return ok
}

func (f *Factory) Parser(mimeType string) (Parser, error) {
	return f.ParserWithOptions(mimeType, Options{})
}

func (f *Factory) ParserWithOptions(mimeType string, opts Options) (Parser, error) {
	mt := NormalizeMimeType(mimeType)

	build, ok := f.registry[mt]
	if !ok {
		if reason, rejected := f.rejected[mt]; rejected {
			return nil, fmt.Errorf("%w: %s: %s", ErrUnsupportedFileType, mt, reason)
		}
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFileType, mimeType)
	}

	if opts.RowPolicy == "" {
		opts.RowPolicy = f.defaults.RowPolicy
	}
	return build(opts), nil
}

// SupportedTypes lists the registered MIME types in sorted order.
func (f *Factory) SupportedTypes() []string {
	types := make([]string, 0, len(f.registry))
	for mt := range f.registry {
		types = append(types, mt)
	}
	sort.Strings(types)
	return types
}
