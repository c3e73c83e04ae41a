// Package config loads grantsd configuration from environment variables.
//
// Variables may also come from a .env file (joho/godotenv); values already
// present in the environment win.
//
// Server:
//
//	GRANTS_HOST="0.0.0.0"
//	GRANTS_PORT="8080"
//	GRANTS_HEALTH_PORT="9090"
//
// Database:
//
//	GRANTS_DB_DRIVER="postgres"   # postgres or sqlite3
//	GRANTS_DB_URL="postgres://localhost/grants?sslmode=disable"
//	GRANTS_DB_AUTO_MIGRATE="true"
//
// Redis (optional, backs the public verify rate limiter):
//
//	GRANTS_REDIS_URL="redis://localhost:6379/0"
//
// Identity:
//
//	GRANTS_OIDC_ISSUER="https://idp.example.com"
//	GRANTS_OIDC_CLIENT_ID="grants"
//	GRANTS_TRUST_ACTOR_HEADER="false"
//
// Notifications:
//
//	GRANTS_SMTP_HOST, GRANTS_SMTP_PORT, GRANTS_SMTP_FROM
//	GRANTS_SMS_GATEWAY_URL, GRANTS_SMS_API_KEY
//	GRANTS_NOTIFY_RELAY_SCHEDULE="@every 1m"
//
// Assignments:
//
//	GRANTS_CATALOG_PATH="/etc/grants/catalog.yaml"
//	GRANTS_RESOLVER_LEGACY_ACTIVE_GATE="false"
//
// Usage:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
package config
