package criteria

import (
	"fmt"
	"strings"
)

// CuisineType is the closed enumeration of cuisines a restaurant can be
// registered under. It is stored as text in the restaurants table.
type CuisineType string

const (
	CuisineItalian   CuisineType = "Italian"
	CuisineJapanese  CuisineType = "Japanese"
	CuisineChinese   CuisineType = "Chinese"
	CuisineIndian    CuisineType = "Indian"
	CuisineMexican   CuisineType = "Mexican"
	CuisineColombian CuisineType = "Colombian"
	CuisineFrench    CuisineType = "French"
	CuisineGreek     CuisineType = "Greek"
	CuisineSpanish   CuisineType = "Spanish"
	CuisineThai      CuisineType = "Thai"
	CuisineAmerican  CuisineType = "American"
	CuisineFusion    CuisineType = "Fusion"
)

var cuisineTypes = []CuisineType{
	CuisineItalian, CuisineJapanese, CuisineChinese, CuisineIndian,
	CuisineMexican, CuisineColombian, CuisineFrench, CuisineGreek,
	CuisineSpanish, CuisineThai, CuisineAmerican, CuisineFusion,
}

// CuisineTypes returns all known cuisine types.
func CuisineTypes() []CuisineType {
	out := make([]CuisineType, len(cuisineTypes))
	copy(out, cuisineTypes)
	return out
}

// ParseCuisineType resolves a display name to a CuisineType,
// case-insensitively.
func ParseCuisineType(name string) (CuisineType, error) {
	for _, c := range cuisineTypes {
		if strings.EqualFold(string(c), name) {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown cuisine type: %q", name)
}
