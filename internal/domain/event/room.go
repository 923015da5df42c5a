package event

import "strings"

// Room is a fan-out target derived from a package, driver or role.
type Room string

// Admin is joined by admin and manager connections.
const Admin Room = "admin"

const (
	packagePrefix = "package:"
	driverPrefix  = "driver:"
)

// PackageRoom returns the room of viewers of one package.
func PackageRoom(packageID string) Room { return Room(packagePrefix + packageID) }

// DriverRoom returns the private room of one driver.
func DriverRoom(driverID string) Room { return Room(driverPrefix + driverID) }

// Kind returns package, driver, admin or other.
func (r Room) Kind() string {
	switch {
	case r == Admin:
		return "admin"
	case strings.HasPrefix(string(r), packagePrefix):
		return "package"
	case strings.HasPrefix(string(r), driverPrefix):
		return "driver"
	default:
		return "other"
	}
}

// Targets returns the rooms e is delivered to: the package room, the admin
// room and the driver room when a driver is assigned.
func Targets(e Event) []Room {
	rooms := []Room{PackageRoom(e.PackageID), Admin}
	if e.DriverID != "" {
		rooms = append(rooms, DriverRoom(e.DriverID))
	}
	return rooms
}
