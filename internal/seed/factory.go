// Package seed builds demo users and ads for local development.
package seed

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/mapmarket/backend/internal/ads"
	"github.com/mapmarket/backend/internal/models"
)

const earthRadiusKm = 6371.0

// Area is the circle demo ads are scattered over.
type Area struct {
	Lat      float64
	Lng      float64
	RadiusKm float64
}

// Factory builds randomised but valid ad requests.
type Factory struct {
	faker *gofakeit.Faker
	rnd   *rand.Rand
	area  Area
}

// NewFactory creates a factory. A fixed seed gives a reproducible data set.
func NewFactory(seed int64, area Area) *Factory {
	if area.RadiusKm <= 0 {
		area.RadiusKm = 10
	}
	return &Factory{
		faker: gofakeit.New(seed),
		rnd:   rand.New(rand.NewSource(seed)),
		area:  area,
	}
}

// User returns a demo account's email and full name.
func (f *Factory) User(i int) (email, fullName string) {
	first, last := f.faker.FirstName(), f.faker.LastName()
	email = fmt.Sprintf("%s.%s.%d@example.com", strings.ToLower(first), strings.ToLower(last), i)
	return email, first + " " + last
}

// Point returns a uniformly distributed point inside the area.
func (f *Factory) Point() (lat, lng float64) {
	d := f.area.RadiusKm * math.Sqrt(f.rnd.Float64()) / earthRadiusKm
	bearing := 2 * math.Pi * f.rnd.Float64()
	lat1 := f.area.Lat * math.Pi / 180
	lng1 := f.area.Lng * math.Pi / 180

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(d) + math.Cos(lat1)*math.Sin(d)*math.Cos(bearing))
	lng2 := lng1 + math.Atan2(math.Sin(bearing)*math.Sin(d)*math.Cos(lat1), math.Cos(d)-math.Sin(lat1)*math.Sin(lat2))
	return lat2 * 180 / math.Pi, math.Mod(lng2*180/math.Pi+540, 360) - 180
}

var categories = []models.Category{models.CategoryRental, models.CategorySale, models.CategoryClothing}

// Ad returns a create request for a random category.
func (f *Factory) Ad() ads.AdRequest {
	cat := categories[f.rnd.Intn(len(categories))]
	lat, lng := f.Point()
	req := ads.AdRequest{
		Category:    string(cat),
		Description: f.faker.Paragraph(1, 3, 12, " "),
		Currency:    "EUR",
		Lat:         &lat,
		Lng:         &lng,
		Address:     f.faker.Street() + ", " + f.faker.City(),
	}

	var attrs map[string]any
	switch cat {
	case models.CategoryRental:
		rooms := 1 + f.rnd.Intn(5)
		area := 20 + f.rnd.Intn(130)
		req.Title = fmt.Sprintf("%d-room flat, %d m²", rooms, area)
		req.PriceCents = int64(400+f.rnd.Intn(2600)) * 100
		attrs = map[string]any{"rooms": rooms, "area_m2": area}
	case models.CategorySale:
		req.Title = strings.TrimSuffix(f.faker.ProductName(), ".")
		req.PriceCents = int64(f.faker.Price(5, 900) * 100)
	case models.CategoryClothing:
		sizes := []string{"XS", "S", "M", "L", "XL"}
		req.Title = f.faker.Color() + " " + strings.ToLower(f.faker.RandomString([]string{"jacket", "dress", "jeans", "sneakers", "coat"}))
		req.PriceCents = int64(5+f.rnd.Intn(120)) * 100
		attrs = map[string]any{"size": sizes[f.rnd.Intn(len(sizes))]}
	}
	if attrs != nil {
		raw, _ := json.Marshal(attrs)
		req.Attributes = raw
	}
	return req
}
