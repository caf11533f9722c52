package tosbft

import "fmt"

// runwayStatus renders Runway's status tick: store contents plus
// outstanding missing coords/parents.
func runwayStatus(storeStatus string, missingCoords, missingParents int) string {
	return fmt.Sprintf("%smissing coords: %d, missing parents: %d\n", storeStatus, missingCoords, missingParents)
}
