// Package gps ingests GNSS position fixes.
//
// Parse decodes NMEA GGA, RMC and VTG sentences plus the $PANDA sentence
// emitted by AgOpenGPS-style IMU/GNSS boards, without allocating. Service
// reads a serial receiver (or gpsd) in the background and hands each epoch
// to a callback, which is normally the autosteer pipeline.
package gps
