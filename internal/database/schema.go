package database

import (
	"context"
	"database/sql"
)

// EnsureSchema creates all tables if they do not exist yet.  Versioned
// tables share the same four bookkeeping columns: the surrogate key
// id, the stable identity, and the [version_start, version_end)
// validity interval with NULL marking the current version.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS organizers (
		id            CHAR(36) PRIMARY KEY,
		identity      CHAR(36) NOT NULL,
		version_start DATETIME(6) NOT NULL,
		version_end   DATETIME(6) NULL,
		name          VARCHAR(190) NOT NULL,
		slug          VARCHAR(64) NOT NULL,
		KEY idx_organizers_identity (identity, version_end)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS events (
		id                 CHAR(36) PRIMARY KEY,
		identity           CHAR(36) NOT NULL,
		version_start      DATETIME(6) NOT NULL,
		version_end        DATETIME(6) NULL,
		organizer_identity CHAR(36) NOT NULL,
		name               VARCHAR(190) NOT NULL,
		slug               VARCHAR(64) NOT NULL,
		currency           CHAR(3) NOT NULL,
		date_from          DATETIME(6) NOT NULL,
		date_to            DATETIME(6) NULL,
		presale_start      DATETIME(6) NULL,
		presale_end        DATETIME(6) NULL,
		payment_term_days  INT UNSIGNED NOT NULL DEFAULT 14,
		KEY idx_events_identity (identity, version_end),
		KEY idx_events_organizer (organizer_identity)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS item_categories (
		id             CHAR(36) PRIMARY KEY,
		identity       CHAR(36) NOT NULL,
		version_start  DATETIME(6) NOT NULL,
		version_end    DATETIME(6) NULL,
		event_identity CHAR(36) NOT NULL,
		name           VARCHAR(190) NOT NULL,
		position       INT NOT NULL DEFAULT 0,
		KEY idx_item_categories_identity (identity, version_end),
		KEY idx_item_categories_event (event_identity)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS questions (
		id             CHAR(36) PRIMARY KEY,
		identity       CHAR(36) NOT NULL,
		version_start  DATETIME(6) NOT NULL,
		version_end    DATETIME(6) NULL,
		event_identity CHAR(36) NOT NULL,
		question       VARCHAR(500) NOT NULL,
		type           CHAR(1) NOT NULL,
		required       BOOLEAN NOT NULL DEFAULT FALSE,
		KEY idx_questions_identity (identity, version_end),
		KEY idx_questions_event (event_identity)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS items (
		id                  CHAR(36) PRIMARY KEY,
		identity            CHAR(36) NOT NULL,
		version_start       DATETIME(6) NOT NULL,
		version_end         DATETIME(6) NULL,
		event_identity      CHAR(36) NOT NULL,
		category_identity   CHAR(36) NULL,
		name                VARCHAR(190) NOT NULL,
		active              BOOLEAN NOT NULL DEFAULT TRUE,
		deleted             BOOLEAN NOT NULL DEFAULT FALSE,
		description         TEXT NULL,
		default_price_cents BIGINT NULL,
		KEY idx_items_identity (identity, version_end),
		KEY idx_items_event (event_identity, version_end)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS properties (
		id             CHAR(36) PRIMARY KEY,
		identity       CHAR(36) NOT NULL,
		version_start  DATETIME(6) NOT NULL,
		version_end    DATETIME(6) NULL,
		event_identity CHAR(36) NOT NULL,
		name           VARCHAR(190) NOT NULL,
		KEY idx_properties_identity (identity, version_end),
		KEY idx_properties_event (event_identity)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS property_values (
		id                CHAR(36) PRIMARY KEY,
		identity          CHAR(36) NOT NULL,
		version_start     DATETIME(6) NOT NULL,
		version_end       DATETIME(6) NULL,
		property_identity CHAR(36) NOT NULL,
		value             VARCHAR(190) NOT NULL,
		position          INT NOT NULL DEFAULT 0,
		KEY idx_property_values_identity (identity, version_end),
		KEY idx_property_values_property (property_identity, version_end)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS item_properties (
		item_id           CHAR(36) NOT NULL,
		property_identity CHAR(36) NOT NULL,
		PRIMARY KEY (item_id, property_identity)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS item_questions (
		item_id           CHAR(36) NOT NULL,
		question_identity CHAR(36) NOT NULL,
		PRIMARY KEY (item_id, question_identity)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS item_variations (
		id                  CHAR(36) PRIMARY KEY,
		identity            CHAR(36) NOT NULL,
		version_start       DATETIME(6) NOT NULL,
		version_end         DATETIME(6) NULL,
		item_identity       CHAR(36) NOT NULL,
		active              BOOLEAN NOT NULL DEFAULT TRUE,
		default_price_cents BIGINT NULL,
		KEY idx_item_variations_identity (identity, version_end),
		KEY idx_item_variations_item (item_identity, version_end)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS variation_values (
		variation_id   CHAR(36) NOT NULL,
		value_identity CHAR(36) NOT NULL,
		PRIMARY KEY (variation_id, value_identity)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS quotas (
		id             CHAR(36) PRIMARY KEY,
		identity       CHAR(36) NOT NULL,
		version_start  DATETIME(6) NOT NULL,
		version_end    DATETIME(6) NULL,
		event_identity CHAR(36) NOT NULL,
		name           VARCHAR(190) NOT NULL,
		size           BIGINT NOT NULL,
		KEY idx_quotas_identity (identity, version_end),
		KEY idx_quotas_event (event_identity, version_end)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS quota_items (
		quota_id      CHAR(36) NOT NULL,
		item_identity CHAR(36) NOT NULL,
		PRIMARY KEY (quota_id, item_identity)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS quota_variations (
		quota_id           CHAR(36) NOT NULL,
		variation_identity CHAR(36) NOT NULL,
		PRIMARY KEY (quota_id, variation_identity)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS restrictions (
		id             CHAR(36) PRIMARY KEY,
		identity       CHAR(36) NOT NULL,
		version_start  DATETIME(6) NOT NULL,
		version_end    DATETIME(6) NULL,
		event_identity CHAR(36) NOT NULL,
		item_identity  CHAR(36) NULL,
		kind           VARCHAR(100) NOT NULL,
		config         JSON NULL,
		KEY idx_restrictions_identity (identity, version_end),
		KEY idx_restrictions_event (event_identity, version_end)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS restriction_variations (
		restriction_id     CHAR(36) NOT NULL,
		variation_identity CHAR(36) NOT NULL,
		PRIMARY KEY (restriction_id, variation_identity)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS orders (
		id             CHAR(36) PRIMARY KEY,
		identity       CHAR(36) NOT NULL,
		version_start  DATETIME(6) NOT NULL,
		version_end    DATETIME(6) NULL,
		event_identity CHAR(36) NOT NULL,
		status         VARCHAR(10) NOT NULL,
		datetime       DATETIME(6) NOT NULL,
		expires        DATETIME(6) NOT NULL,
		payment_date   DATETIME(6) NULL,
		payment_info   TEXT NULL,
		total_cents    BIGINT NOT NULL,
		KEY idx_orders_identity (identity, version_end),
		KEY idx_orders_status (status, expires, version_end)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS order_positions (
		id                 CHAR(36) PRIMARY KEY,
		order_identity     CHAR(36) NOT NULL,
		item_identity      CHAR(36) NOT NULL,
		variation_identity CHAR(36) NULL,
		price_cents        BIGINT NOT NULL,
		created_at         DATETIME(6) NOT NULL,
		KEY idx_order_positions_order (order_identity),
		KEY idx_order_positions_item (item_identity, variation_identity)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS cart_positions (
		id                 CHAR(36) PRIMARY KEY,
		event_identity     CHAR(36) NOT NULL,
		item_identity      CHAR(36) NOT NULL,
		variation_identity CHAR(36) NULL,
		price_cents        BIGINT NOT NULL,
		datetime           DATETIME(6) NOT NULL,
		expires            DATETIME(6) NOT NULL,
		KEY idx_cart_positions_expires (expires),
		KEY idx_cart_positions_item (item_identity, variation_identity, expires)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS question_answers (
		id                CHAR(36) PRIMARY KEY,
		cart_position_id  CHAR(36) NULL,
		order_position_id CHAR(36) NULL,
		question_identity CHAR(36) NOT NULL,
		answer            TEXT NOT NULL,
		KEY idx_question_answers_cart (cart_position_id),
		KEY idx_question_answers_order (order_position_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS quota_lock_cache (
		quota_identity CHAR(36) NOT NULL,
		position_id    CHAR(36) NOT NULL,
		PRIMARY KEY (quota_identity, position_id),
		KEY idx_quota_lock_cache_position (position_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS quota_order_cache (
		quota_identity CHAR(36) NOT NULL,
		position_id    CHAR(36) NOT NULL,
		PRIMARY KEY (quota_identity, position_id),
		KEY idx_quota_order_cache_position (position_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}
