package staging

import (
	"context"

	"github.com/giygas/drug-registry/database"
	"github.com/giygas/drug-registry/entities"
)

// conflictRule looks up an existing canonical drug by one natural key.
type conflictRule struct {
	kind entities.ConflictType
	key  func(c *entities.StagingCandidate) string
	find func(ctx context.Context, q database.Querier, key string) (*entities.CanonicalDrug, error)
}

// conflictRules lists the natural keys in precedence order: registration number
// first, then the normalized display name.
func (m *Machine) conflictRules() []conflictRule {
	return []conflictRule{
		{
			kind: entities.ConflictRegistrationNumber,
			key:  func(c *entities.StagingCandidate) string { return c.RegistrationNumber },
			find: m.repo.FindDrugByRegistration,
		},
		{
			kind: entities.ConflictName,
			key:  func(c *entities.StagingCandidate) string { return c.NameNorm },
			find: m.repo.FindDrugByNameNorm,
		},
	}
}

// DetectConflict evaluates the rules in order and stops at the first hit. Empty keys
// never match. It returns ConflictNone and a nil drug when nothing collides.
func (m *Machine) DetectConflict(ctx context.Context, q database.Querier, c *entities.StagingCandidate) (entities.ConflictType, *entities.CanonicalDrug, error) {
	for _, rule := range m.rules {
		key := rule.key(c)
		if key == "" {
			continue
		}
		drug, err := rule.find(ctx, q, key)
		if err != nil {
			return entities.ConflictNone, nil, err
		}
		if drug != nil {
			return rule.kind, drug, nil
		}
	}
	return entities.ConflictNone, nil, nil
}
