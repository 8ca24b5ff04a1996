package amazon

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"price-scout/pkg/models"
	"price-scout/pkg/scrapers"
	"price-scout/pkg/session"
)

const (
	Source  = "AMAZON"
	BaseURL = "https://www.amazon.de"

	resultSelector = `[data-component-type="s-search-result"]`
	titleSelector  = "#productTitle"
)

var (
	asinPattern = regexp.MustCompile(`/dp/([A-Z0-9]{10})`)

	detailPriceSelectors = []string{
		".a-price .a-offscreen",
		"#priceblock_ourprice",
		"#priceblock_dealprice",
		".a-price-whole",
	}
	brandNoise = strings.NewReplacer("Besuche den ", "", "Brand: ", "", "Marke: ", "", "-Store", "")
)

type Scraper struct {
	BaseURL string
}

func NewScraper() *Scraper {
	return &Scraper{BaseURL: BaseURL}
}

func (s *Scraper) Info() scrapers.StoreInfo {
	return scrapers.StoreInfo{
		ID:      "amazon",
		Name:    "Amazon",
		Domain:  "amazon.de",
		Country: "DE",
		BaseURL: s.BaseURL,
	}
}

func (s *Scraper) SearchURL(query string) string {
	return fmt.Sprintf("%s/s?k=%s", s.BaseURL, url.QueryEscape(query))
}

func (s *Scraper) Search(ctx context.Context, sess session.Session, query string, maxResults int) ([]models.ScrapedProduct, error) {
	doc, err := scrapers.LoadDocument(ctx, sess, s.SearchURL(query), resultSelector)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	products := scrapers.ExtractItems(Source, doc.Find(resultSelector), maxResults, func(card *goquery.Selection) (*models.ScrapedProduct, error) {
		return s.parseCard(card, now)
	})
	log.Printf("[%s] %d results for %q", Source, len(products), query)
	return products, nil
}

func (s *Scraper) parseCard(card *goquery.Selection, now time.Time) (*models.ScrapedProduct, error) {
	name := scrapers.CleanText(card.Find("h2 a span").First().Text())
	if name == "" {
		name = scrapers.CleanText(card.Find("h2 span").First().Text())
	}
	if name == "" {
		return nil, fmt.Errorf("%w: card without title", models.ErrMalformedData)
	}

	href, _ := card.Find("h2 a").First().Attr("href")
	if href == "" {
		href, _ = card.Find("a.a-link-normal.s-no-outline").First().Attr("href")
	}
	productURL := scrapers.AbsoluteURL(s.BaseURL, href)

	price, ok := scrapers.ParsePrice(card.Find(".a-price .a-offscreen").First().Text())
	if !ok {
		whole := card.Find(".a-price-whole").First().Text()
		fraction := card.Find(".a-price-fraction").First().Text()
		if whole != "" {
			price, ok = scrapers.ParsePrice(strings.TrimRight(whole, ".,") + "," + fraction)
		}
	}

	asin := strings.TrimSpace(card.AttrOr("data-asin", ""))
	if asin == "" {
		asin = ExtractASIN(productURL)
	}
	image, _ := card.Find("img.s-image").First().Attr("src")

	return &models.ScrapedProduct{
		Name:        name,
		Price:       price,
		Currency:    models.DefaultCurrency,
		IsAvailable: ok,
		URL:         productURL,
		ImageURL:    image,
		ExternalID:  asin,
		Source:      Source,
		ScrapedAt:   now,
	}, nil
}

func (s *Scraper) FetchDetail(ctx context.Context, sess session.Session, productURL string) (*models.ScrapedProduct, error) {
	doc, err := scrapers.LoadDocument(ctx, sess, productURL, "")
	if err != nil {
		return nil, err
	}

	product := &models.ScrapedProduct{
		URL:        productURL,
		Currency:   models.DefaultCurrency,
		ExternalID: ExtractASIN(productURL),
		Source:     Source,
		ScrapedAt:  time.Now(),
	}

	product.Name = scrapers.CleanText(doc.Find(titleSelector).First().Text())
	if product.Name == "" {
		if ld, ok := scrapers.ParseJSONLD(doc); ok {
			ld.URL, ld.Source, ld.ScrapedAt = productURL, Source, product.ScrapedAt
			if ld.ExternalID == "" {
				ld.ExternalID = product.ExternalID
			}
			return finish(ld), nil
		}
		log.Printf("[%s] no product title on %s", Source, productURL)
		return nil, nil
	}

	for _, sel := range detailPriceSelectors {
		if price, ok := scrapers.ParsePrice(doc.Find(sel).First().Text()); ok {
			product.Price = price
			break
		}
	}

	if byline := doc.Find("#bylineInfo").First().Text(); byline != "" {
		product.Brand = strings.TrimSpace(brandNoise.Replace(scrapers.CleanText(byline)))
	}

	img := doc.Find("#landingImage, #imgTagWrapperId img").First()
	product.ImageURL = img.AttrOr("data-old-hires", "")
	if product.ImageURL == "" {
		product.ImageURL = img.AttrOr("src", "")
	}

	product.Description = scrapers.CleanText(doc.Find("#productDescription p").First().Text())

	product.IsAvailable = true
	if avail := strings.ToLower(doc.Find("#availability span").First().Text()); avail != "" {
		product.IsAvailable = !strings.Contains(avail, "nicht verfügbar") && !strings.Contains(avail, "currently unavailable")
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

// ExtractASIN returns the 10 character product id of an amazon URL.
func ExtractASIN(productURL string) string {
	if m := asinPattern.FindStringSubmatch(productURL); m != nil {
		return m[1]
	}
	return ""
}
