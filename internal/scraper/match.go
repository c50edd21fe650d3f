package scraper

import (
	"strings"

	"go.uber.org/zap"
)

// Below this ratio a fuzzy candidate is considered noise.
const similarityThreshold = 0.4

// The source abbreviates city names; the store keeps the official ones.
var cityAliases = map[string]string{
	"TANA":         "Antananarivo",
	"ANTSIRABE":    "Antsirabe",
	"FIANARANTSOA": "Fianarantsoa",
	"TAMATAVE":     "Toamasina",
	"DIEGO":        "Antsiranana",
	"TULEAR":       "Toliara",
	"MAJUNGA":      "Mahajanga",
}

func mapCity(scraped string) string {
	if official, ok := cityAliases[strings.ToUpper(strings.TrimSpace(scraped))]; ok {
		return official
	}
	return scraped
}

type matchCandidate struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
}

// matchPharmacy resolves a scraped pharmacy name to a stored pharmacy id
// within the named city. An exact normalized match wins outright; otherwise
// the best similarity above the threshold does. Ties keep the first candidate
// in table order and log the rest. Unresolved names are logged and dropped,
// never inserted.
func (s *Scraper) matchPharmacy(name, city string) (int64, bool) {
	storedCity := mapCity(city)
	var candidates []matchCandidate
	err := s.db.Select(&candidates, `SELECT p.id, p.name FROM pharmacies p
        JOIN cities c ON c.id = p.city_id
        WHERE LOWER(c.name) = LOWER(?) ORDER BY p.id`, storedCity)
	if err != nil {
		s.logger.Error("pharmacy lookup failed", zap.String("city", storedCity), zap.Error(err))
		return 0, false
	}
	if len(candidates) == 0 {
		s.logger.Warn("no pharmacies stored for city", zap.String("city", storedCity))
		return 0, false
	}

	target := normalizeName(name)
	for _, c := range candidates {
		if normalizeName(c.Name) == target {
			return c.ID, true
		}
	}

	best := matchCandidate{}
	bestRatio := 0.0
	var ties []string
	for _, c := range candidates {
		ratio := similarity(target, normalizeName(c.Name))
		switch {
		case ratio > bestRatio:
			best, bestRatio = c, ratio
			ties = nil
		case ratio == bestRatio && ratio > 0:
			ties = append(ties, c.Name)
		}
	}
	if bestRatio <= similarityThreshold {
		s.logger.Warn("no match for scraped pharmacy",
			zap.String("pharmacy", name),
			zap.String("city", storedCity),
			zap.Float64("best_ratio", bestRatio),
		)
		return 0, false
	}
	for _, runnerUp := range ties {
		s.logger.Warn("ambiguous pharmacy match, keeping first",
			zap.String("pharmacy", name),
			zap.String("kept", best.Name),
			zap.String("discarded", runnerUp),
			zap.Float64("ratio", bestRatio),
		)
	}
	s.logger.Info("matched scraped pharmacy",
		zap.String("pharmacy", name),
		zap.String("matched", best.Name),
		zap.Float64("ratio", bestRatio),
	)
	return best.ID, true
}

func normalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// similarity is the Ratcliff/Obershelp ratio: twice the number of matching
// characters over the total length of both strings.
func similarity(a, b string) float64 {
	total := len(a) + len(b)
	if total == 0 {
		return 1
	}
	return 2 * float64(matchingChars(a, b)) / float64(total)
}

func matchingChars(a, b string) int {
	ai, bi, size := longestMatch(a, b)
	if size == 0 {
		return 0
	}
	return size +
		matchingChars(a[:ai], b[:bi]) +
		matchingChars(a[ai+size:], b[bi+size:])
}

func longestMatch(a, b string) (int, int, int) {
	bestA, bestB, bestSize := 0, 0, 0
	for i := 0; i < len(a); i++ {
		for j := 0; j < len(b); j++ {
			size := 0
			for i+size < len(a) && j+size < len(b) && a[i+size] == b[j+size] {
				size++
			}
			if size > bestSize {
				bestA, bestB, bestSize = i, j, size
			}
		}
	}
	return bestA, bestB, bestSize
}
