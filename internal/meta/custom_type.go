package meta

// Platform names the storage flavor a custom type converts for.
type Platform string

const (
	PlatformSQLite Platform = "sqlite"
	PlatformMySQL  Platform = "mysql"
	PlatformMongo  Platform = "mongo"
)

// CustomType converts a property between its database and in-memory forms.
type CustomType interface {
	// Name is the descriptor name of the type ("uuid", "json", ...).
	Name() string

	// ConvertToEntityValue converts a raw database value. nil stays nil.
	ConvertToEntityValue(v any, p Platform) (any, error)

	// ConvertToDatabaseValue converts an in-memory value back.
	ConvertToDatabaseValue(v any, p Platform) (any, error)

	// EnsureComparable asks the hydrator to round-trip raw payloads so the
	// stored snapshot is in a canonical, comparable form.
	EnsureComparable() bool
}
