package database

import (
	"log"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"
)

type seedUser struct {
	email, password, name, role string
}

// SeedUsers creates the default dashboard accounts on an empty users table.
func SeedUsers(db *sqlx.DB) error {
	var count int
	if err := db.Get(&count, "SELECT COUNT(*) FROM users"); err != nil {
		return err
	}
	if count > 0 {
		log.Println("✓ Users already seeded, skipping...")
		return nil
	}

	log.Println("🌱 Seeding default users...")

	users := []seedUser{
		{"admin@medbin.local", "admin123", "Dispatch Admin", "admin"},
		{"operator@medbin.local", "operator123", "Collection Operator", "operator"},
		{"driver@medbin.local", "driver123", "Route Driver", "driver"},
	}

	for _, u := range users {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		_, err = db.NamedExec(`
			INSERT INTO users (id, email, password, name, role)
			VALUES (:id, :email, :password, :name, :role)
		`, map[string]interface{}{
			"id":       uuid.New().String(),
			"email":    u.email,
			"password": string(hash),
			"name":     u.name,
			"role":     u.role,
		})
		if err != nil {
			return err
		}
		log.Printf("  ✓ Created user: %s (%s)", u.email, u.role)
	}

	log.Println("✓ Successfully seeded users")
	return nil
}
