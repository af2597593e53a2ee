package personalization

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/patrickwarner/openpersonalize/internal/models"
)

// KeyPrefix namespaces every key the service writes.
const KeyPrefix = "personalization:"

const epochKey = KeyPrefix + "rules:epoch"

// rulesKey holds the active rule list for one rule-set epoch. Scoping it by
// epoch keeps a reader that loaded rules before a mutation from repopulating
// the fresh epoch with the old list.
func rulesKey(epoch string) string {
	return fmt.Sprintf("%srules:active:%s", KeyPrefix, epoch)
}

func evalKey(epoch, hash string) string {
	return fmt.Sprintf("%seval:%s:%s", KeyPrefix, epoch, hash)
}

// recsKey is not epoch scoped: recommendation lists only expire by TTL.
func recsKey(kind models.CatalogKind, persona models.Persona, engagement models.EngagementLevel) string {
	return fmt.Sprintf("%srecs:%s:%s:%s", KeyPrefix, kind, persona, engagement)
}

// contextHash fingerprints the fields of a UserContext that rules and
// recommendations read. UserID and Interests are left out so users with the
// same profile share cache entries.
func contextHash(uc models.UserContext) string {
	var lastVisit int64
	if !uc.LastVisit.IsZero() {
		lastVisit = uc.LastVisit.Unix()
	}
	b, _ := json.Marshal(struct {
		P models.Persona         `json:"p"`
		E models.EngagementLevel `json:"e"`
		V models.VisitorType     `json:"v"`
		C int                    `json:"c"`
		L int64                  `json:"l"`
	}{uc.Persona, uc.EngagementLevel, uc.VisitorType, uc.InteractionCount, lastVisit})
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:16])
}
