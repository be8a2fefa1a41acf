package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sshcollectorpro/confbackup/internal/connector"
	"github.com/sshcollectorpro/confbackup/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"
)

func TestDeviceCreateDefaults(t *testing.T) {
	f := newFixture(t, testBackupConfig())
	svc := NewDeviceService(f.db, f.conn, time.Second)

	d, err := svc.Create(context.Background(), DeviceInput{IPAddress: "10.1.1.1", Username: "admin", Password: "pw", Protocol: "TELNET"})
	require.NoError(t, err)
	assert.Equal(t, model.ProtocolTelnet, d.Protocol)
	assert.Equal(t, 23, d.Port)
	assert.Equal(t, "10.1.1.1", d.Hostname)
	assert.Equal(t, model.DefaultDeviceType, d.DeviceType)
	assert.True(t, d.IsActive)

	inactive := false
	d, err = svc.Update(context.Background(), d.ID, DeviceInput{Alias: "dist-1", IsActive: &inactive})
	require.NoError(t, err)
	assert.Equal(t, "dist-1", d.Alias)
	assert.False(t, d.IsActive)
	assert.Equal(t, model.Secret("pw"), d.Password)

	active, err := svc.List(context.Background(), true)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestDeviceValidation(t *testing.T) {
	f := newFixture(t, testBackupConfig())
	svc := NewDeviceService(f.db, f.conn, time.Second)

	cases := map[string]DeviceInput{
		"ip_address": {Username: "admin"},
		"username":   {IPAddress: "10.0.0.1"},
		"protocol":   {IPAddress: "10.0.0.1", Username: "admin", Protocol: "serial"},
		"port":       {IPAddress: "10.0.0.1", Username: "admin", Port: 70000},
	}
	for field, in := range cases {
		_, err := svc.Create(context.Background(), in)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr, field)
		assert.Equal(t, field, verr.Field)
	}
}

func TestDeviceDeleteRejectedWithHistory(t *testing.T) {
	f := newFixture(t, testBackupConfig())
	f.start(t)
	svc := NewDeviceService(f.db, f.conn, time.Second)
	d := f.addDevice(t, "r1", true)
	spare := f.addDevice(t, "r2", true)
	f.waitTerminal(t, f.submit(t, d.ID, 1).ID)

	var conflict *ConflictError
	require.ErrorAs(t, svc.Delete(context.Background(), d.ID), &conflict)

	require.NoError(t, svc.Delete(context.Background(), spare.ID))
	var notFound *DeviceNotFoundError
	require.ErrorAs(t, svc.Delete(context.Background(), spare.ID), &notFound)
}

func TestDeviceTestConnection(t *testing.T) {
	f := newFixture(t, testBackupConfig())
	svc := NewDeviceService(f.db, f.conn, time.Second)
	d := f.addDevice(t, "r1", true)

	res, err := svc.Test(context.Background(), d.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)

	f.conn.pingErr = &connector.Error{Kind: connector.KindAuth, Address: "192.0.2.1:22", Err: errors.New("bad password")}
	res, err = svc.Test(context.Background(), d.ID)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "auth", res.Kind)
	assert.Contains(t, res.Message, "bad password")
}

func TestDeviceCredentialsEncryptedAtRest(t *testing.T) {
	f := newFixture(t, testBackupConfig())
	svc := NewDeviceService(f.db, f.conn, time.Second)

	d, err := svc.Create(context.Background(), DeviceInput{IPAddress: "10.1.1.9", Username: "admin", Password: "s3cret", EnablePassword: "en4ble"})
	require.NoError(t, err)

	var raw struct {
		Password       string
		EnablePassword string
	}
	require.NoError(t, f.db.Raw("SELECT password, enable_password FROM devices WHERE id = ?", d.ID).Scan(&raw).Error)
	assert.True(t, strings.HasPrefix(raw.Password, "enc:v1:"), raw.Password)
	assert.NotContains(t, raw.Password, "s3cret")
	assert.NotContains(t, raw.EnablePassword, "en4ble")

	loaded, err := svc.Get(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Secret("s3cret"), loaded.Password)
	assert.Equal(t, model.Secret("en4ble"), loaded.EnablePassword)
}

func TestDeviceImport(t *testing.T) {
	f := newFixture(t, testBackupConfig())
	svc := NewDeviceService(f.db, f.conn, time.Second)
	_, err := svc.Create(context.Background(), DeviceInput{IPAddress: "10.0.0.1", Username: "admin"})
	require.NoError(t, err)

	csv := strings.Join([]string{
		"IP_Address,username,password,alias,port,protocol",
		"10.0.0.1,admin,pw,existing,,",
		"10.0.0.2,admin,pw,edge-1,,telnet",
		"10.0.0.3,,pw,no-user,,",
		"10.0.0.4,admin,pw,bad-port,abc,",
		"10.0.0.2,admin,pw,repeated,,",
		",,,,,",
		"10.0.0.5,admin,pw,edge-2,2222,ssh",
	}, "\n")
	res, err := svc.Import(context.Background(), strings.NewReader(csv), ImportOptions{BackupCommand: "display current-configuration"})
	require.NoError(t, err)

	assert.Equal(t, 2, res.SuccessCount)
	assert.Equal(t, 2, res.SkippedCount)
	assert.Equal(t, 2, res.ErrorCount)
	require.Len(t, res.Errors, 2)
	assert.Contains(t, res.Errors[0], "line 4")
	assert.Contains(t, res.Errors[0], "username")
	assert.Contains(t, res.Errors[1], "line 5")
	assert.Contains(t, res.Errors[1], "port")

	require.Len(t, res.Devices, 2)
	edge1, edge2 := res.Devices[0], res.Devices[1]
	assert.NotZero(t, edge1.ID)
	assert.Equal(t, model.ProtocolTelnet, edge1.Protocol)
	assert.Equal(t, 23, edge1.Port)
	assert.Equal(t, 2222, edge2.Port)
	assert.Equal(t, "display current-configuration", edge2.BackupCommand)

	loaded, err := svc.Get(context.Background(), edge2.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Secret("pw"), loaded.Password)
	assert.True(t, loaded.IsActive)

	all, err := svc.List(context.Background(), false)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestDeviceImportWithConnectionTest(t *testing.T) {
	f := newFixture(t, testBackupConfig())
	svc := NewDeviceService(f.db, f.conn, time.Second)
	f.conn.pingErrs["10.0.0.7"] = &connector.Error{Kind: connector.KindAuth, Address: "10.0.0.7:22", Err: errors.New("bad password")}

	csv := "ip_address,username,password\n10.0.0.6,admin,pw\n10.0.0.7,admin,pw\n"
	res, err := svc.Import(context.Background(), strings.NewReader(csv), ImportOptions{TestConnections: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.SuccessCount)
	assert.Equal(t, 1, res.ErrorCount)
	assert.Contains(t, res.Errors[0], "line 3: connection test failed")
	assert.Contains(t, res.Errors[0], "bad password")
	assert.Equal(t, "10.0.0.6", res.Devices[0].IPAddress)
}

func TestDeviceImportRejectsBadFile(t *testing.T) {
	f := newFixture(t, testBackupConfig())
	svc := NewDeviceService(f.db, f.conn, time.Second)

	files := map[string]string{
		"missing column": "ip_address,username\n10.0.0.1,admin\n",
		"empty":          "",
		"header only":    "ip_address,username,password\n",
	}
	for name, content := range files {
		_, err := svc.Import(context.Background(), strings.NewReader(content), ImportOptions{})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr, name)
		assert.Equal(t, "file", verr.Field, name)
	}
}

func TestDeviceImportTemplate(t *testing.T) {
	f := newFixture(t, testBackupConfig())
	svc := NewDeviceService(f.db, f.conn, time.Second)

	var buf bytes.Buffer
	require.NoError(t, WriteImportTemplate(&buf))
	assert.True(t, strings.HasPrefix(buf.String(), "ip_address,username,password,"))

	res, err := svc.Import(context.Background(), &buf, ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.SuccessCount)
	assert.Empty(t, res.Errors)
	assert.Equal(t, model.ProtocolSSH, res.Devices[0].Protocol)
	assert.Equal(t, model.ProtocolTelnet, res.Devices[1].Protocol)
	assert.Equal(t, "huawei", res.Devices[1].DeviceType)
}

func TestDeviceImportDecodesGBK(t *testing.T) {
	f := newFixture(t, testBackupConfig())
	svc := NewDeviceService(f.db, f.conn, time.Second)

	gbk, err := simplifiedchinese.GBK.NewEncoder().String("ip_address,username,password,alias\n10.0.0.8,admin,pw,核心交换机\n")
	require.NoError(t, err)

	res, err := svc.Import(context.Background(), strings.NewReader(gbk), ImportOptions{})
	require.NoError(t, err)
	require.Len(t, res.Devices, 1)
	assert.Equal(t, "核心交换机", res.Devices[0].Alias)
}
