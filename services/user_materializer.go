package services

import (
	"context"
	"fmt"
	"strings"

	"user-management-api/utils"
)

const (
	RowCreated  = "created"
	RowUpdated  = "updated"
	RowRejected = "rejected"
)

// RowOutcome is the per-row result of materialization. Reason is set only
// for rejected rows and carries the spreadsheet row number (header counted).
type RowOutcome struct {
	Kind   string
	Reason string
}

// AccountInput is one resolved, validated row handed to the account writer.
// Password is empty when the row supplied none.
type AccountInput struct {
	FullName  string
	Email     string
	Role      string
	Password  string
	AvatarURL string
}

type accountWriter interface {
	CreateOrUpdate(ctx context.Context, input *AccountInput) (created bool, err error)
}

// Header aliases accepted per logical field, in resolution order. Matching
// is case insensitive, so e.g. "E-MAIL" also resolves.
var (
	fullNameKeys = []string{"full_name", "name", "Full Name", "Nome Completo"}
	emailKeys    = []string{"email", "Email", "E-mail"}
	roleKeys     = []string{"role", "Role"}
	passwordKeys = []string{"password", "Password"}
	avatarKeys   = []string{"avatar_url"}
)

// UserMaterializer turns one row mapping into a user create-or-update
// attempt. Validation failures reject the row only; they never fail the
// surrounding import.
type UserMaterializer struct {
	accounts accountWriter
}

func NewUserMaterializer(accounts accountWriter) *UserMaterializer {
	return &UserMaterializer{accounts: accounts}
}

// MaterializeRow resolves field aliases, validates, and writes the user.
// dataIndex is the zero-based position of the row within the data rows; the
// rejection reason reports it as a spreadsheet row number, so data row 0 is
// "Row 2" (row 1 is the header).
func (m *UserMaterializer) MaterializeRow(ctx context.Context, row map[string]string, dataIndex int) RowOutcome {
	rowNum := dataIndex + 2

	fullName := resolveField(row, fullNameKeys)
	email := resolveField(row, emailKeys)
	role := strings.ToLower(resolveField(row, roleKeys))
	if role == "" {
		role = "user"
	}
	password := resolveField(row, passwordKeys)
	avatarURL := resolveField(row, avatarKeys)

	if fullName == "" {
		return reject(rowNum, "Full name is required")
	}
	if email == "" {
		return reject(rowNum, "Email is required")
	}
	if !utils.ValidateEmail(email) {
		return reject(rowNum, fmt.Sprintf("Email %q has an invalid format", email))
	}

	created, err := m.accounts.CreateOrUpdate(ctx, &AccountInput{
		FullName:  fullName,
		Email:     email,
		Role:      role,
		Password:  password,
		AvatarURL: avatarURL,
	})
	if err != nil {
		return reject(rowNum, err.Error())
	}
	if created {
		return RowOutcome{Kind: RowCreated}
	}
	return RowOutcome{Kind: RowUpdated}
}

func reject(rowNum int, cause string) RowOutcome {
	return RowOutcome{
		Kind:   RowRejected,
		Reason: fmt.Sprintf("Row %d: %s", rowNum, cause),
	}
}

// resolveField returns the first non-blank value among the candidate keys,
// matching header names case-insensitively.
func resolveField(row map[string]string, candidates []string) string {
	for _, candidate := range candidates {
		for key, value := range row {
			if strings.EqualFold(strings.TrimSpace(key), candidate) {
				if v := strings.TrimSpace(value); v != "" {
					return v
				}
			}
		}
	}
	return ""
}
