package serializer

import (
	"github.com/mdouchement/fileshare/internal/model"
)

// ShortLinks returns the serialized form of the given models.
func ShortLinks(links []*model.ShortLink) []map[string]interface{} {
	sl := make([]map[string]interface{}, 0, len(links))

	for _, link := range links {
		sl = append(sl, ShortLink(link))
	}

	return sl
}

// ShortLink returns the serialized form of the given model.
func ShortLink(link *model.ShortLink) map[string]interface{} {
	return map[string]interface{}{
		"code":       link.Code,
		"target_url": link.TargetURL,
		"short_url":  "/share/" + link.Code,
		"created_at": link.CreatedAt,
	}
}
