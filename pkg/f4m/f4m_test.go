package f4m

import (
	"encoding/base64"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseVODSingleStream(t *testing.T) {
	bootstrap := base64.StdEncoding.EncodeToString([]byte("fake-abst-bytes"))
	doc := fmt.Sprintf(`<?xml version="1.0"?>
<manifest xmlns="http://ns.adobe.com/f4m/1.0">
  <id>my-movie</id>
  <duration>10</duration>
  <media streamId="1" bootstrapInfoId="b" />
  <bootstrapInfo id="b" profile="named">
    %s
  </bootstrapInfo>
</manifest>`, bootstrap)

	m, refs, err := Parse([]byte(doc))
	require.NoError(t, err)
	require.Equal(t, "my-movie", m.ID)
	require.Equal(t, 10.0, m.DurationSeconds)
	require.False(t, m.Live)
	require.Len(t, refs, 1)
	require.Equal(t, "1", refs[0].Media.StreamID)
	require.Equal(t, []byte("fake-abst-bytes"), refs[0].Bootstrap.Data)
}

func TestParseLiveNoDuration(t *testing.T) {
	doc := `<manifest>
  <media streamId="1" url="abst-url-track" />
  <bootstrapInfo url="http://example.com/bootstrap" />
</manifest>`
	m, refs, err := Parse([]byte(doc))
	require.NoError(t, err)
	require.True(t, m.Live)
	require.Equal(t, 0.0, m.DurationSeconds)
	require.Len(t, refs, 1)
	require.Equal(t, "http://example.com/bootstrap", refs[0].Bootstrap.URL)
}

func TestParseZeroDurationIsLive(t *testing.T) {
	doc := `<manifest><duration>0</duration><media/><bootstrapInfo/></manifest>`
	m, _, err := Parse([]byte(doc))
	require.NoError(t, err)
	require.True(t, m.Live)
}

func TestParseCrossJoinRequiresMatchingIDs(t *testing.T) {
	doc := `<manifest>
  <media streamId="1" bootstrapInfoId="a" />
  <media streamId="2" bootstrapInfoId="b" />
  <bootstrapInfo id="a" />
  <bootstrapInfo id="b" />
  <bootstrapInfo id="c" />
</manifest>`
	_, refs, err := Parse([]byte(doc))
	require.NoError(t, err)
	require.Len(t, refs, 2)
}

func TestParseTooManyMediaElementsIsHardError(t *testing.T) {
	var b strings.Builder
	b.WriteString("<manifest>")
	for i := 0; i < maxMediaElements+1; i++ {
		fmt.Fprintf(&b, `<media streamId="%d" />`, i)
	}
	b.WriteString("</manifest>")

	_, _, err := Parse([]byte(b.String()))
	require.Error(t, err)
}

func TestParseExcessBootstrapInfoIsDroppedNotFatal(t *testing.T) {
	var b strings.Builder
	b.WriteString("<manifest><media bootstrapInfoId=\"b0\"/>")
	for i := 0; i < maxBootstrapInfoElems+3; i++ {
		fmt.Fprintf(&b, `<bootstrapInfo id="b%d" />`, i)
	}
	b.WriteString("</manifest>")

	m, _, err := Parse([]byte(b.String()))
	require.NoError(t, err)
	require.Len(t, m.Bootstraps, maxBootstrapInfoElems)
}

func TestParseMissingManifestRootErrors(t *testing.T) {
	_, _, err := Parse([]byte(`<notAManifest/>`))
	require.Error(t, err)
}

func TestParseInvalidBase64Errors(t *testing.T) {
	doc := `<manifest><bootstrapInfo id="b">not-valid-base64!!!</bootstrapInfo></manifest>`
	_, _, err := Parse([]byte(doc))
	require.Error(t, err)
}
