package thomann

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-scout/pkg/models"
	"price-scout/pkg/session/sessiontest"
)

func fixture(t *testing.T, name string) string {
	t.Helper()
	b, err := os.ReadFile("testdata/" + name)
	require.NoError(t, err)
	return string(b)
}

func openPages(t *testing.T, pages map[string]string) *sessiontest.Pages {
	t.Helper()
	p := sessiontest.New(pages)
	require.NoError(t, p.Open(context.Background()))
	return p
}

func TestSearch(t *testing.T) {
	s := NewScraper()
	assert.Equal(t, "https://www.thomann.de/de/search_dir.html?sws=e+gitarre", s.SearchURL("e gitarre"))

	sess := openPages(t, map[string]string{s.SearchURL("gitarre"): fixture(t, "search.html")})
	products, err := s.Search(context.Background(), sess, "gitarre", 10)
	require.NoError(t, err)
	require.Len(t, products, 2)

	hb := products[0]
	assert.Equal(t, "Harley Benton CST-24T Paradise Flame", hb.Name)
	assert.Equal(t, "Harley Benton", hb.Brand)
	assert.Equal(t, 149.0, hb.Price)
	assert.True(t, hb.IsAvailable)
	assert.Equal(t, "https://www.thomann.de/de/harley_benton_cst_24t_paradise_flame.htm", hb.URL)
	assert.Equal(t, "https://images.thomann.test/pics/prod/456789.jpg", hb.ImageURL)
	assert.Equal(t, Source, hb.Source)

	fender := products[1]
	assert.Equal(t, 1049.0, fender.Price)
	assert.False(t, fender.IsAvailable)
	assert.Equal(t, "444512", fender.ExternalID)
	assert.Equal(t, "https://images.thomann.test/pics/prod/444512.jpg", fender.ImageURL)
}

func TestSearch_NavigationFailureIsTransient(t *testing.T) {
	s := NewScraper()
	sess := openPages(t, map[string]string{})

	_, err := s.Search(context.Background(), sess, "gitarre", 10)
	assert.True(t, errors.Is(err, models.ErrTransient))
}

func TestFetchDetail(t *testing.T) {
	s := NewScraper()
	url := "https://www.thomann.de/de/114495.htm"
	sess := openPages(t, map[string]string{url: fixture(t, "detail.html")})

	p, err := s.FetchDetail(context.Background(), sess, url)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Boss DS-1 Distortion", p.Name)
	assert.Equal(t, "Boss", p.Brand)
	assert.Equal(t, 59.0, p.Price)
	assert.True(t, p.IsAvailable)
	assert.Equal(t, "114495", p.ExternalID)
	assert.Equal(t, "https://images.thomann.test/pics/prod/114495.jpg", p.ImageURL)
	assert.Equal(t, "Classic distortion pedal with tone and level controls.", p.Description)
}

func TestFetchDetail_JSONLDOnly(t *testing.T) {
	s := NewScraper()
	url := "https://www.thomann.de/de/yamaha_hs8.htm"
	sess := openPages(t, map[string]string{url: fixture(t, "detail_jsonld.html")})

	p, err := s.FetchDetail(context.Background(), sess, url)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Yamaha HS8", p.Name)
	assert.Equal(t, 229.0, p.Price)
	assert.Equal(t, "Yamaha", p.Brand)
	assert.True(t, p.IsAvailable)
	assert.Equal(t, url, p.URL)
}

func TestFetchDetail_EmptyPage(t *testing.T) {
	s := NewScraper()
	url := "https://www.thomann.de/de/gone.htm"
	sess := openPages(t, map[string]string{url: "<html><body></body></html>"})

	p, err := s.FetchDetail(context.Background(), sess, url)
	assert.NoError(t, err)
	assert.Nil(t, p)
}

func TestExtractProductID(t *testing.T) {
	assert.Equal(t, "123456", ExtractProductID("https://www.thomann.de/de/123456.htm"))
	assert.Equal(t, "987", ExtractProductID("https://www.thomann.de/de/some_item_987.htm"))
	assert.Equal(t, "", ExtractProductID("https://www.thomann.de/de/some_item.htm"))
}
