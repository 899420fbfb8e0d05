package eventparser

import (
	"html"
	"testing"

	"github.com/stretchr/testify/require"
)

// doubleEscapeIntoPropertySet wraps a raw Event document the way a real
// Sonos NOTIFY body wraps LastChange: the inner document is XML-escaped
// once to live as element text, then the whole outer document is escaped
// again by the time it reaches the wire, so lastChangeXML's single
// UnescapeLastChange call (on top of the outer xml.Unmarshal's own decode)
// recovers the original document.
func doubleEscapeIntoPropertySet(inner string) []byte {
	once := html.EscapeString(inner)
	twice := html.EscapeString(once)
	doc := `<?xml version="1.0"?><propertyset xmlns="urn:schemas-upnp-org:metadata-1-0/AVT_RCS"><property><LastChange>` +
		twice + `</LastChange></property></propertyset>`
	return []byte(doc)
}

const sampleDIDL = `&lt;DIDL-Lite xmlns:dc=&quot;http://purl.org/dc/elements/1.1/&quot; xmlns:upnp=&quot;urn:schemas-upnp-org:metadata-1-0/upnp/&quot;&gt;&lt;item&gt;&lt;dc:title&gt;Song Title&lt;/dc:title&gt;&lt;dc:creator&gt;The Artist&lt;/dc:creator&gt;&lt;upnp:album&gt;The Album&lt;/upnp:album&gt;&lt;/item&gt;&lt;/DIDL-Lite&gt;`

func avTransportEventXML() string {
	return `<Event><InstanceID val="0">` +
		`<TransportState val="PLAYING"/>` +
		`<TransportStatus val="OK"/>` +
		`<CurrentTrackURI val="x-file-cifs://share/song.mp3"/>` +
		`<CurrentTrackMetaData val="` + sampleDIDL + `"/>` +
		`<CurrentTrackDuration val="00:03:30"/>` +
		`<RelativeTimePosition val="00:01:15"/>` +
		`</InstanceID></Event>`
}

func TestParseAVTransport(t *testing.T) {
	body := doubleEscapeIntoPropertySet(avTransportEventXML())

	rec, err := parseAVTransport(body)
	require.NoError(t, err)
	require.Equal(t, "PLAYING", rec.TransportState)
	require.Equal(t, "OK", rec.TransportStatus)
	require.Equal(t, int64(210000), rec.TrackDurationMs)
	require.Equal(t, int64(75000), rec.RelTimeMs)
	require.Equal(t, "Song Title", rec.Track.Title)
	require.Equal(t, "The Artist", rec.Track.Artist)
	require.Equal(t, "The Album", rec.Track.Album)
	require.Equal(t, "x-file-cifs://share/song.mp3", rec.Track.TrackURI)
}

func TestParseAVTransportMissingLastChange(t *testing.T) {
	_, err := parseAVTransport([]byte(`<propertyset></propertyset>`))
	require.Error(t, err)
}

func TestParseAVTransportMalformedXML(t *testing.T) {
	_, err := parseAVTransport([]byte(`not xml at all`))
	require.Error(t, err)
}

func TestParseDIDLLiteStripsNamespaces(t *testing.T) {
	raw := `<DIDL-Lite xmlns:dc="x" xmlns:upnp="y"><item><dc:title>T</dc:title><dc:creator>A</dc:creator><upnp:album>Al</upnp:album><upnp:albumArtURI>http://x/art.jpg</upnp:albumArtURI></item></DIDL-Lite>`
	meta, err := parseDIDLLite(raw)
	require.NoError(t, err)
	require.Equal(t, "T", meta.Title)
	require.Equal(t, "A", meta.Artist)
	require.Equal(t, "Al", meta.Album)
	require.Equal(t, "http://x/art.jpg", meta.AlbumArtURI)
}

func TestParseDIDLLiteExported(t *testing.T) {
	raw := `<DIDL-Lite><item><dc:title>T</dc:title></item></DIDL-Lite>`
	meta, err := ParseDIDLLite(raw)
	require.NoError(t, err)
	require.Equal(t, "T", meta.Title)
}
