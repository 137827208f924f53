package models

import (
	"strings"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/CSSEGISandData/COVID-19"))

// EntityID derives a stable identifier for an entity kind and join key, so
// the same place and date keep their ID across cache refreshes.
func EntityID(kind, country, province string, date civil.Date) string {
	key := strings.Join([]string{kind, country, province, date.String()}, "\x00")
	return uuid.NewSHA1(idNamespace, []byte(key)).String()
}
