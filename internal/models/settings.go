package models

import (
	"go.mongodb.org/mongo-driver/bson"

	"github.com/harentsoaR/gestorpro/internal/store"
)

const (
	SettingsCollection = "settings"
	SettingsID         = "default"

	// StatusRequested marks an appointment as an unprocessed request.
	StatusRequested = "Solicitado"
)

type SettingCategory struct {
	ID   string `bson:"id" json:"id"`
	Name string `bson:"name" json:"name"`
}

// Settings is the shared configuration singleton settings/default.
type Settings struct {
	AppName              string            `bson:"appName" json:"appName"`
	LogoURL              *string           `bson:"logoUrl" json:"logoUrl"`
	Requesters           []SettingCategory `bson:"requesters" json:"requesters"`
	Demands              []SettingCategory `bson:"demands" json:"demands"`
	InspectionTypes      []SettingCategory `bson:"inspectionTypes" json:"inspectionTypes"`
	Patios               []SettingCategory `bson:"patios" json:"patios"`
	Statuses             []SettingCategory `bson:"statuses" json:"statuses"`
	FinancialCategories  []bson.M          `bson:"financialCategories" json:"financialCategories"`
	Services             []bson.M          `bson:"services" json:"services"`
	EnableSoundAlert     bool              `bson:"enableSoundAlert" json:"enableSoundAlert"`
	EnableVibrationAlert bool              `bson:"enableVibrationAlert" json:"enableVibrationAlert"`
	MasterPassword       string            `bson:"masterPassword" json:"-"`
}

func DefaultSettings(masterPassword string) Settings {
	return Settings{
		AppName:         "GestorPRO",
		Requesters:      []SettingCategory{},
		Demands:         []SettingCategory{},
		InspectionTypes: []SettingCategory{},
		Patios:          []SettingCategory{},
		Statuses: []SettingCategory{
			{ID: "1", Name: StatusRequested},
			{ID: "2", Name: "Agendado"},
			{ID: "3", Name: "Em Andamento"},
			{ID: "4", Name: "Concluído"},
			{ID: "5", Name: "Pendente"},
			{ID: "6", Name: "Finalizado"},
		},
		FinancialCategories:  []bson.M{},
		Services:             []bson.M{},
		EnableSoundAlert:     true,
		EnableVibrationAlert: true,
		MasterPassword:       masterPassword,
	}
}

// SettingsFromDocument overlays the stored fields on the defaults.
func SettingsFromDocument(d store.Document, defaults Settings) (Settings, error) {
	s := defaults
	if err := Decode(d, &s); err != nil {
		return defaults, err
	}
	return s, nil
}

// RequesterName resolves a client's linked requester, or "" when the id is
// empty or unknown.
func (s Settings) RequesterName(id string) string {
	if id == "" {
		return ""
	}
	for _, r := range s.Requesters {
		if r.ID == id {
			return r.Name
		}
	}
	return ""
}
