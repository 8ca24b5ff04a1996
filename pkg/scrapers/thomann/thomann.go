package thomann

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"regexp"
	"time"

	"github.com/PuerkitoBio/goquery"

	"price-scout/pkg/models"
	"price-scout/pkg/scrapers"
	"price-scout/pkg/session"
)

const (
	Source  = "THOMANN"
	BaseURL = "https://www.thomann.de"

	resultSelector = ".product"
)

var productIDPattern = regexp.MustCompile(`/(\d+)\.htm|_(\d+)\.htm`)

type Scraper struct {
	BaseURL string
}

func NewScraper() *Scraper {
	return &Scraper{BaseURL: BaseURL}
}

func (s *Scraper) Info() scrapers.StoreInfo {
	return scrapers.StoreInfo{
		ID:      "thomann",
		Name:    "Thomann",
		Domain:  "thomann.de",
		Country: "DE",
		BaseURL: s.BaseURL,
	}
}

func (s *Scraper) SearchURL(query string) string {
	return fmt.Sprintf("%s/de/search_dir.html?sws=%s", s.BaseURL, url.QueryEscape(query))
}

func (s *Scraper) Search(ctx context.Context, sess session.Session, query string, maxResults int) ([]models.ScrapedProduct, error) {
	doc, err := scrapers.LoadDocument(ctx, sess, s.SearchURL(query), resultSelector)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	products := scrapers.ExtractItems(Source, doc.Find(resultSelector), maxResults, func(item *goquery.Selection) (*models.ScrapedProduct, error) {
		return s.parseItem(item, now)
	})
	log.Printf("[%s] %d results for %q", Source, len(products), query)
	return products, nil
}

func (s *Scraper) parseItem(item *goquery.Selection, now time.Time) (*models.ScrapedProduct, error) {
	manufacturer := scrapers.CleanText(item.Find(".title__manufacturer").First().Text())
	name := scrapers.CleanText(manufacturer + " " + item.Find(".title__name").First().Text())
	if name == "" {
		return nil, fmt.Errorf("%w: item without title", models.ErrMalformedData)
	}

	href, _ := item.Find("a.product__content").First().Attr("href")
	productURL := scrapers.AbsoluteURL(s.BaseURL, href)

	price, ok := scrapers.ParsePrice(item.Find(".fx-typography-price-primary").First().Text())

	img := item.Find(".product__image img").First()
	image := img.AttrOr("src", "")
	if image == "" {
		image = img.AttrOr("data-src", "")
	}

	return &models.ScrapedProduct{
		Name:        name,
		Price:       price,
		Currency:    models.DefaultCurrency,
		IsAvailable: ok && item.Find(".fx-availability--in-stock").Length() > 0,
		URL:         productURL,
		ImageURL:    image,
		Brand:       manufacturer,
		ExternalID:  ExtractProductID(productURL),
		Source:      Source,
		ScrapedAt:   now,
	}, nil
}

func (s *Scraper) FetchDetail(ctx context.Context, sess session.Session, productURL string) (*models.ScrapedProduct, error) {
	doc, err := scrapers.LoadDocument(ctx, sess, productURL, "")
	if err != nil {
		return nil, err
	}

	now := time.Now()
	ld, hasLD := scrapers.ParseJSONLD(doc)

	manufacturer := scrapers.CleanText(doc.Find(".title__manufacturer").First().Text())
	name := scrapers.CleanText(manufacturer + " " + doc.Find(".title__name").First().Text())
	if name == "" {
		name = scrapers.CleanText(doc.Find(".product-title h1, h1").First().Text())
	}

	if name == "" {
		if !hasLD {
			log.Printf("[%s] no product on %s", Source, productURL)
			return nil, nil
		}
		ld.URL, ld.Source, ld.ScrapedAt = productURL, Source, now
		if ld.ExternalID == "" {
			ld.ExternalID = ExtractProductID(productURL)
		}
		return finish(ld), nil
	}

	product := &models.ScrapedProduct{
		Name:        name,
		Brand:       manufacturer,
		Currency:    models.DefaultCurrency,
		URL:         productURL,
		ExternalID:  ExtractProductID(productURL),
		Description: scrapers.CleanText(doc.Find(".product__description").First().Text()),
		Source:      Source,
		ScrapedAt:   now,
	}

	price, ok := scrapers.ParsePrice(doc.Find(".fx-typography-price-primary").First().Text())
	if !ok && hasLD {
		price, ok = ld.Price, ld.Price > 0
	}
	product.Price = price

	product.IsAvailable = doc.Find(".fx-availability--in-stock").Length() > 0
	if !product.IsAvailable && hasLD && doc.Find(".fx-availability").Length() == 0 {
		product.IsAvailable = ld.IsAvailable
	}
	product.IsAvailable = product.IsAvailable && ok

	img := doc.Find(".product__image img, .ZoomImageViewer img").First()
	product.ImageURL = img.AttrOr("src", "")
	if product.ImageURL == "" && hasLD {
		product.ImageURL = ld.ImageURL
	}
	if product.Brand == "" && hasLD {
		product.Brand = ld.Brand
	}

	return finish(product), nil
}

func finish(p *models.ScrapedProduct) *models.ScrapedProduct {
	p.Normalize()
	if !p.Valid() {
		return nil
	}
	return p
}

// ExtractProductID returns the numeric article id in a thomann product URL.
func ExtractProductID(productURL string) string {
	m := productIDPattern.FindStringSubmatch(productURL)
	if m == nil {
		return ""
	}
	if m[1] != "" {
		return m[1]
	}
	return m[2]
}
