// Package device is the module store for MicroCoaster Core.
//
// A module is a physical device (station, switch track, light effect and
// so on) that connects to the Gateway over WebSocket. This package keeps
// the durable side of each module in SQLite:
//
//   - identity and type, provisioned by an administrator
//   - the argon2id hash of the module secret
//   - the owning user, set when a user claims the module
//   - the last persisted presence status
//
// Live presence is not stored here; see package presence. The store only
// receives best-effort status writes so the admin list survives restarts.
//
// # Module IDs
//
// IDs follow the firmware convention MC-XXXX-TYPE, for example
// MC-0001-STN. The type suffix is one of the codes returned by AllTypes.
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.DB)
//
//	// Provisioning (admin)
//	err := repo.Provision(ctx, &device.Module{ID: "MC-0001-ST"}, secret)
//
//	// Claiming (user)
//	mod, err := repo.Claim(ctx, "MC-0001-ST", secret, userID)
//
//	// Gateway authentication
//	mod, err := repo.ValidateCredentials(ctx, "MC-0001-ST", secret)
//
// # Thread Safety
//
// SQLiteRepository is safe for concurrent use; it holds no state beyond
// the *sql.DB.
package device
