//go:build property
// +build property

package models_test

import (
	"regexp"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/rflorenc/content-migration-workbench/internal/models"
)

var slugShape = regexp.MustCompile(`^([a-z0-9]+(-[a-z0-9]+)*)?$`)

func TestSlugifyProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("slugs are lowercase words joined by single hyphens", prop.ForAll(
		func(s string) bool {
			return slugShape.MatchString(models.Slugify(s))
		},
		gen.AnyString(),
	))

	properties.Property("slugify is idempotent", prop.ForAll(
		func(s string) bool {
			once := models.Slugify(s)
			return models.Slugify(once) == once
		},
		gen.AnyString(),
	))

	properties.Property("alphanumeric words survive in order", prop.ForAll(
		func(a, b string) bool {
			return models.Slugify(a+" "+b) == a+"-"+b
		},
		gen.RegexMatch(`^[a-z0-9]{1,12}$`),
		gen.RegexMatch(`^[a-z0-9]{1,12}$`),
	))

	properties.TestingRun(t)
}
