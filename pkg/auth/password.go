package auth

import "golang.org/x/crypto/bcrypt"

// Account passwords are stored as bcrypt hashes.
const passwordCost = bcrypt.DefaultCost

// HashPassword returns a bcrypt hash of password for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored bcrypt hash.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
