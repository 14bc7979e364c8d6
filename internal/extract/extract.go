package extract

import (
	"bytes"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/menu-catalog-sync/internal/catalog"
	"github.com/JakeFAU/menu-catalog-sync/internal/discovery"
)

// Page is the parsed input handed to every strategy.
type Page struct {
	URL string
	Raw []byte
	Doc *goquery.Document
}

// Fields is a partial product. Empty values mean "not found".
type Fields struct {
	Name        string
	Brand       string
	Category    string
	Description string
	Price       string
	THC         string
	CBD         string
	ImageURL    string
	Effects     []string
	Flavors     []string
	Tags        []string
	InStock     *bool
}

// Strategy extracts whatever it can recognize from a page.
type Strategy interface {
	Name() string
	Extract(page *Page) Fields
}

// DefaultStrategies returns the standard chain in priority order.
func DefaultStrategies() []Strategy {
	return []Strategy{
		JSONLD{},
		OpenGraph{},
		Embedded{},
		CategoryFallback{},
		DescriptionFallback{},
	}
}

// Extractor implements catalog.Extractor.
type Extractor struct {
	strategies []Strategy
	logger     *zap.Logger
}

// New builds an Extractor. With no strategies the default chain is used.
func New(logger *zap.Logger, strategies ...Strategy) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	return &Extractor{strategies: strategies, logger: logger.Named("extract")}
}

// Extract never fails; callers check the record's Name for validity.
func (e *Extractor) Extract(body []byte, sourceURL string) catalog.ProductRecord {
	record, _ := e.Explain(body, sourceURL)
	return record
}

// Explain extracts a record and reports which strategy supplied each field.
func (e *Extractor) Explain(body []byte, sourceURL string) (catalog.ProductRecord, map[string]string) {
	sources := make(map[string]string)
	var merged Fields

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		e.logger.Debug("html parse failed", zap.String("url", sourceURL), zap.Error(err))
	} else {
		page := &Page{URL: sourceURL, Raw: body, Doc: doc}
		for _, strategy := range e.strategies {
			merge(&merged, clean(strategy.Extract(page), sourceURL), strategy.Name(), sources)
		}
	}

	record := toRecord(merged, sourceURL)
	e.logger.Debug("extracted",
		zap.String("url", sourceURL),
		zap.Bool("named", record.Name != ""),
		zap.Any("sources", sources),
	)
	return record, sources
}

// merge copies every field of next that is still empty in dst.
func merge(dst *Fields, next Fields, source string, sources map[string]string) {
	setString := func(field string, target *string, value string) {
		if *target == "" && value != "" {
			*target = value
			sources[field] = source
		}
	}
	setList := func(field string, target *[]string, value []string) {
		if len(*target) == 0 && len(value) > 0 {
			*target = append([]string(nil), value...)
			sources[field] = source
		}
	}

	setString("name", &dst.Name, next.Name)
	setString("brand", &dst.Brand, next.Brand)
	setString("category", &dst.Category, next.Category)
	setString("description", &dst.Description, next.Description)
	setString("price", &dst.Price, next.Price)
	setString("thc", &dst.THC, next.THC)
	setString("cbd", &dst.CBD, next.CBD)
	setString("image_url", &dst.ImageURL, next.ImageURL)
	setList("effects", &dst.Effects, next.Effects)
	setList("flavors", &dst.Flavors, next.Flavors)
	setList("tags", &dst.Tags, next.Tags)
	if dst.InStock == nil && next.InStock != nil {
		v := *next.InStock
		dst.InStock = &v
		sources["in_stock"] = source
	}
}

func toRecord(f Fields, sourceURL string) catalog.ProductRecord {
	canonical, ok := discovery.Normalize(sourceURL, "")
	if !ok {
		canonical = sourceURL
	}
	record := catalog.ProductRecord{
		Name:        f.Name,
		Brand:       f.Brand,
		Category:    f.Category,
		Description: f.Description,
		Price:       f.Price,
		THC:         f.THC,
		CBD:         f.CBD,
		ImageURL:    f.ImageURL,
		Effects:     f.Effects,
		Flavors:     f.Flavors,
		Tags:        f.Tags,
		InStock:     true,
		SourceURL:   canonical,
		RemoteID:    RemoteID(sourceURL),
	}
	if f.InStock != nil {
		record.InStock = *f.InStock
	}
	return record
}

func boolPtr(v bool) *bool { return &v }
