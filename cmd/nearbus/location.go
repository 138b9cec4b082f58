package main

import (
	"net/http"
	"strconv"
	"sync"

	"nearbus/internal/transit"
)

// atomicLocation remembers the most recent rider position so scheduled
// background cycles refresh the data the rider is actually looking at.
type atomicLocation struct {
	mu  sync.Mutex
	loc transit.Coordinates
	set bool
}

func (a *atomicLocation) Get() (transit.Coordinates, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loc, a.set
}

func (a *atomicLocation) Set(loc transit.Coordinates) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.loc = loc
	a.set = true
}

// trackLocation records the coordinates of valid nearby queries.
func trackLocation(a *atomicLocation, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/nearby" {
			q := r.URL.Query()
			lat, err1 := strconv.ParseFloat(q.Get("lat"), 64)
			lon, err2 := strconv.ParseFloat(q.Get("lon"), 64)
			if err1 == nil && err2 == nil {
				if loc := (transit.Coordinates{Lat: lat, Lon: lon}); loc.Valid() {
					a.Set(loc)
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}
