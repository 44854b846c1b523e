package controller

import (
	"net/http"

	"github.com/canopy-network/roscax/pkg/db/entities"
)

// EntityInfo represents metadata about a projected entity.
type EntityInfo struct {
	Name      string `json:"name"`       // "security_deposits"
	TableName string `json:"table_name"` // "security_deposits"
	Label     string `json:"label"`      // "security deposit"
}

// HandleEntities lists every projected entity kind.
// GET /entities
func (c *Controller) HandleEntities(w http.ResponseWriter, r *http.Request) {
	allEntities := entities.All()

	result := make([]EntityInfo, len(allEntities))
	for i, entity := range allEntities {
		result[i] = EntityInfo{
			Name:      entity.String(),
			TableName: entity.TableName(),
			Label:     entity.Singular(),
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entities": result,
	})
}
