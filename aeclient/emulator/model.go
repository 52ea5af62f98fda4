package emulator

import "time"

// customerRow is the stored form of a Customer row: Name and SSN hold ciphertext
type customerRow struct {
	CustomerID int64  `gorm:"column:CustomerId;primaryKey;autoIncrement"`
	Name       []byte `gorm:"column:Name;not null"`
	SSN        []byte `gorm:"column:SSN;not null"`
	City       string `gorm:"column:City;not null"`
}

// TableName implements gorm's tabler interface
func (customerRow) TableName() string {
	return "Customer"
}

// columnKeyRow records which key protects an encrypted column
type columnKeyRow struct {
	ColumnName     string    `gorm:"column:ColumnName;primaryKey"`
	KeyID          string    `gorm:"column:KeyId;not null"`
	KeyName        string    `gorm:"column:KeyName;not null"`
	EncryptionType string    `gorm:"column:EncryptionType;not null"`
	Algorithm      string    `gorm:"column:Algorithm;not null"`
	CheckValue     []byte    `gorm:"column:CheckValue;not null"`
	CreatedAt      time.Time `gorm:"column:CreatedAt;not null"`
}

// TableName implements gorm's tabler interface
func (columnKeyRow) TableName() string {
	return "ColumnEncryptionKey"
}
