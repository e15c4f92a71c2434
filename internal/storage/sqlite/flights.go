package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/soaringlab/flighttrack/internal/flight"
	"github.com/soaringlab/flighttrack/pkg/logger"
	_ "modernc.org/sqlite"
)

// FlightStore is a SQLite-backed archive of completed flights
type FlightStore struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewFlightStore opens (creating if necessary) a flight archive at the
// given path.
func NewFlightStore(dbPath string, log *logger.Logger) (*FlightStore, error) {
	storeLogger := log.Named("sqlite")

	storeLogger.Info("Initializing SQLite flight archive",
		logger.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := initDatabase(db); err != nil {
		db.Close()
		return nil, err
	}

	return &FlightStore{db: db, logger: storeLogger}, nil
}

// Close closes the database connection
func (s *FlightStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// initDatabase initializes the database schema
func initDatabase(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS flights (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			aircraft_id TEXT NOT NULL,
			start_time TIMESTAMP,
			end_time TIMESTAMP,
			departure_lat REAL,
			departure_lon REAL,
			arrival_lat REAL,
			arrival_lon REAL,
			departure_heading INTEGER,
			arrival_heading INTEGER,
			departure_info TEXT,
			arrival_info TEXT,
			launch_method TEXT,
			launch_finished TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create flights table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS flight_positions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			flight_id INTEGER NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			lat REAL,
			lon REAL,
			altitude REAL,
			speed REAL,
			heading REAL,
			FOREIGN KEY (flight_id) REFERENCES flights(id) ON DELETE CASCADE
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create flight_positions table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS flight_encounters (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			flight_id INTEGER NOT NULL,
			other_aircraft_id TEXT NOT NULL,
			type TEXT,
			start_time TIMESTAMP,
			end_time TIMESTAMP,
			FOREIGN KEY (flight_id) REFERENCES flights(id) ON DELETE CASCADE
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create flight_encounters table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_flights_aircraft ON flights(aircraft_id)`)
	if err != nil {
		return fmt.Errorf("failed to create flights index: %w", err)
	}

	return nil
}

// SaveFlight persists a flight with its positions and encounters
func (s *FlightStore) SaveFlight(f *flight.Flight) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var depLat, depLon, arrLat, arrLon *float64
	if f.DepartureLocation != nil {
		depLat, depLon = &f.DepartureLocation.Latitude, &f.DepartureLocation.Longitude
	}
	if f.ArrivalLocation != nil {
		arrLat, arrLon = &f.ArrivalLocation.Latitude, &f.ArrivalLocation.Longitude
	}

	res, err := tx.Exec(`
		INSERT INTO flights (
			aircraft_id, start_time, end_time,
			departure_lat, departure_lon, arrival_lat, arrival_lon,
			departure_heading, arrival_heading,
			departure_info, arrival_info,
			launch_method, launch_finished
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.AircraftID, f.StartTime, f.EndTime,
		depLat, depLon, arrLat, arrLon,
		f.DepartureHeading, f.ArrivalHeading,
		f.DepartureInfo.String(), f.ArrivalInfo.String(),
		f.LaunchMethod.String(), f.LaunchFinished,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert flight: %w", err)
	}

	flightID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read flight id: %w", err)
	}

	for _, u := range f.PositionUpdates {
		if _, err := tx.Exec(`
			INSERT INTO flight_positions (flight_id, timestamp, lat, lon, altitude, speed, heading)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			flightID, u.Timestamp, u.Latitude, u.Longitude, u.Altitude, u.Speed, u.Heading,
		); err != nil {
			return 0, fmt.Errorf("failed to insert position: %w", err)
		}
	}

	for _, e := range f.Encounters {
		if _, err := tx.Exec(`
			INSERT INTO flight_encounters (flight_id, other_aircraft_id, type, start_time, end_time)
			VALUES (?, ?, ?, ?, ?)`,
			flightID, e.AircraftID, e.Type.String(), e.Start, e.End,
		); err != nil {
			return 0, fmt.Errorf("failed to insert encounter: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit flight: %w", err)
	}

	s.logger.Debug("Flight archived",
		logger.String("aircraft_id", f.AircraftID),
		logger.Int64("flight_id", flightID),
		logger.Int("positions", len(f.PositionUpdates)))

	return flightID, nil
}

// FlightRecord is a persisted flight summary row
type FlightRecord struct {
	ID             int64
	AircraftID     string
	StartTime      *time.Time
	EndTime        *time.Time
	LaunchMethod   string
	ArrivalInfo    string
	DepartureInfo  string
	ArrivalHeading int
}

// FlightsByAircraft returns the archived flights for one aircraft,
// newest first.
func (s *FlightStore) FlightsByAircraft(aircraftID string) ([]FlightRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, aircraft_id, start_time, end_time, launch_method,
		       arrival_info, departure_info, arrival_heading
		FROM flights
		WHERE aircraft_id = ?
		ORDER BY created_at DESC, id DESC`,
		aircraftID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query flights: %w", err)
	}
	defer rows.Close()

	var out []FlightRecord
	for rows.Next() {
		var r FlightRecord
		if err := rows.Scan(
			&r.ID, &r.AircraftID, &r.StartTime, &r.EndTime, &r.LaunchMethod,
			&r.ArrivalInfo, &r.DepartureInfo, &r.ArrivalHeading,
		); err != nil {
			return nil, fmt.Errorf("failed to scan flight row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
