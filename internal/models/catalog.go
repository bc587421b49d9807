package models

import "time"

type Salon struct {
	ID        string    `yaml:"id" json:"_id"`
	Name      string    `yaml:"name" json:"name"`
	Address   string    `yaml:"address" json:"address,omitempty"`
	Phone     string    `yaml:"phone" json:"phone,omitempty"`
	IsActive  bool      `yaml:"is_active" json:"isActive"`
	CreatedAt time.Time `yaml:"-" json:"createdAt"`
	UpdatedAt time.Time `yaml:"-" json:"updatedAt"`
}

type Service struct {
	ID              string `yaml:"id" json:"_id"`
	SalonID         string `yaml:"salon_id" json:"salonId"`
	Name            string `yaml:"name" json:"name"`
	Price           int64  `yaml:"price" json:"price"`
	DurationMinutes int    `yaml:"duration_minutes" json:"durationMinutes"`
	SortOrder       int64  `yaml:"sort_order" json:"sortOrder"`
	IsActive        bool   `yaml:"is_active" json:"isActive"`
}

type Staff struct {
	ID        string `yaml:"id" json:"_id"`
	SalonID   string `yaml:"salon_id" json:"salonId"`
	Name      string `yaml:"name" json:"name"`
	Position  string `yaml:"position" json:"position,omitempty"`
	Specialty string `yaml:"specialty" json:"specialty,omitempty"`
	IsActive  bool   `yaml:"is_active" json:"isActive"`
}

// Catalog is the shape of catalog.yaml.
type Catalog struct {
	Salons   []Salon   `yaml:"salons"`
	Services []Service `yaml:"services"`
	Staff    []Staff   `yaml:"staff"`
}
